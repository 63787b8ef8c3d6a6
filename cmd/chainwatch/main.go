package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	cwerrors "chainwatch/internal/errors"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

// printError writes err and any suggested fixes it carries.
func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)

	var cwErr *cwerrors.Error
	if !errors.As(err, &cwErr) || len(cwErr.SuggestedFixes) == 0 {
		return
	}
	fmt.Fprintln(w, "\nSuggested fixes:")
	for _, fix := range cwErr.SuggestedFixes {
		switch fix.Type {
		case cwerrors.RunCommand:
			fmt.Fprintf(w, "  - %s\n    $ %s\n", fix.Description, fix.Command)
		case cwerrors.EditConfig:
			fmt.Fprintf(w, "  - %s (config key: %s)\n", fix.Description, fix.Key)
		default:
			fmt.Fprintf(w, "  - %s\n", fix.Description)
		}
	}
}
