package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/namikmesic/genstream/internal/stream"
)

func renderResult(w io.Writer, r *stream.Result, cached bool) {
	if r == nil {
		return
	}
	if cached {
		fmt.Fprintln(w, "(cached)")
	}

	switch {
	case len(r.Flashcards) > 0:
		for i, c := range r.Flashcards {
			fmt.Fprintf(w, "%d. %s\n   %s\n", i+1, c.Front, c.Back)
		}
	case len(r.Quiz) > 0:
		for i, q := range r.Quiz {
			fmt.Fprintf(w, "%d. %s\n", i+1, q.Question)
			for j, opt := range q.Options {
				mark := " "
				if j == q.Correct {
					mark = "*"
				}
				fmt.Fprintf(w, "   %s %c) %s\n", mark, 'a'+rune(j), opt)
			}
			if q.Explanation != "" {
				fmt.Fprintf(w, "   %s\n", q.Explanation)
			}
		}
	case r.Answer != nil:
		fmt.Fprintln(w, strings.TrimSpace(*r.Answer))
	}
}
