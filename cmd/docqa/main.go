// Command docqa answers questions about long documents with a team of model
// roles: decompose, text, image and summary.
package main

func main() {
	Execute()
}
