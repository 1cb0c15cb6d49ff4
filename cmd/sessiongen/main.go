package main

import "github.com/okian/keyprint/internal/sessiongen"

func main() {
	sessiongen.Execute()
}
