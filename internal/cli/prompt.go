package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

// PromptForInstruction asks for the edit instruction interactively.
// Returns "" if nothing could be read.
func PromptForInstruction(in io.Reader, out io.Writer) string {
	fmt.Fprint(out, "Edit instruction: ")

	reader := bufio.NewReader(in)
	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		log.Warn().Err(err).Msg("Failed to read edit instruction")
		return ""
	}
	return strings.TrimSpace(input)
}
