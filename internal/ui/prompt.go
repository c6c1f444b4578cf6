package ui

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// PromptConfirm prompts for yes/no confirmation
func PromptConfirm(prompt string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	input, _ := reader.ReadString('\n')
	input = strings.ToLower(strings.TrimSpace(input))
	return input == "y" || input == "yes"
}

// PromptTyped asks the user to type an exact phrase, used as a stronger
// confirmation before destructive operations.
func PromptTyped(prompt, expected string) bool {
	fmt.Fprintf(os.Stderr, "%s (type %q to continue): ", prompt, expected)
	reader := bufio.NewReader(os.Stdin)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input) == expected
}
