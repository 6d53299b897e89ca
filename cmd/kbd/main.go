// Command kbd runs the knowledge base daemon and its supporting CLI
// operations.
package main

func main() {
	Execute()
}
