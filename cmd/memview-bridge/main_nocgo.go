//go:build !cgo
// +build !cgo

package main

// The exports in main.go require cgo; without it the package still needs a
// main function so that it builds.
func main() {}
