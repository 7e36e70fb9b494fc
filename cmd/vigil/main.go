// Vigil - IT and SDLC Event Analysis
// Check. Explain. Audit.
package main

func main() {
	Execute()
}
