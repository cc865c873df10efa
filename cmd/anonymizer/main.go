// Command anonymizer replaces speaker names in meeting transcripts with
// stable pseudonyms (Speaker_A, Speaker_B, ...).
//
// Each document gets its own name map, built from speaker labels, e-mail
// addresses, initial-plus-surname forms and bracketed name lists. Plain text,
// Markdown, CSV, HTML and Word (.docx) documents are supported; text that is
// not UTF-8 is decoded with a configurable fallback encoding (Shift_JIS by
// default).
//
// Usage:
//
//	# Anonymize files into a zip
//	./anonymizer run meeting.txt minutes.docx -o anonymized_files.zip
//
//	# Serve the HTTP API
//	ANON_TOKEN=secret ./anonymizer serve
//
//	# Anonymize whatever lands in an inbox directory
//	./anonymizer watch ./inbox ./outbox
//
//	# Inspect the ledger and the ignore vocabulary
//	./anonymizer report
//	./anonymizer vocab add Kickoff
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
