package fields

import (
	"fmt"
	"strings"
)

// NotFound is the value the model is told to use for fields absent from the text.
const NotFound = "Not found"

const systemPrompt = "You are an expert at reading academic certificates. You extract structured metadata from noisy OCR text and answer with a single JSON object only."

// SystemPrompt returns the instruction shared by every request.
func (c *Catalog) SystemPrompt() string {
	return systemPrompt
}

// Prompt builds the user message for one document.
func (c *Catalog) Prompt(text string) string {
	var b strings.Builder

	b.WriteString("Extract the following fields from the certificate text below.\n\n")
	b.WriteString("Fields:\n")
	for _, f := range c.Fields {
		if f.Description != "" {
			fmt.Fprintf(&b, "- %q: %s\n", f.Name, f.Description)
		} else {
			fmt.Fprintf(&b, "- %q\n", f.Name)
		}
	}

	b.WriteString("\nRules:\n")
	b.WriteString("- Answer with one JSON object whose keys are exactly the field names above.\n")
	b.WriteString("- All values must be strings.\n")
	fmt.Fprintf(&b, "- If a field does not appear in the text, use %q.\n", NotFound)
	b.WriteString("- Do not guess values that are not present in the text.\n")
	b.WriteString("- Do not wrap the answer in markdown or add any explanation.\n")

	b.WriteString("\nCertificate text:\n")
	b.WriteString("--------------------\n")
	b.WriteString(text)
	b.WriteString("\n--------------------\n")

	return b.String()
}
