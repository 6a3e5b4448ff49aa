package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// hash_operator_key prints the bcrypt hash to put in OPERATOR_KEY_HASH. The
// key is read from -key or, when absent, the first line of stdin.
func main() {
	key := flag.String("key", "", "Operator key to hash")
	cost := flag.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	flag.Parse()

	if *key == "" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			log.Fatalf("usage: go run cmd/adminutil/hash_operator_key/main.go -key <operator-key>")
		}
		*key = strings.TrimSpace(line)
	}
	if len(*key) < 12 {
		log.Fatalf("operator key must be at least 12 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(*key), *cost)
	if err != nil {
		log.Fatalf("failed to hash key: %v", err)
	}
	fmt.Println(string(hash))
}
