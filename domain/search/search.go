package search

import (
	"strconv"
	"strings"
)

const DefaultLimit = 20

// Query is a parsed conversation search.
type Query struct {
	RawInput string
	Terms    string
	RoomID   string
	Limit    int
}

// NewSearchQuery parses a raw string with command-line style flags.
// Example: "deploy friday --room ops --limit 5"
func NewSearchQuery(input string) Query {
	query := Query{
		RawInput: input,
		Limit:    DefaultLimit,
	}

	parts := strings.Fields(input)
	var textTerms []string

	for i := 0; i < len(parts); i++ {
		part := parts[i]

		if strings.HasPrefix(part, "--") && i+1 < len(parts) {
			value := parts[i+1]
			switch strings.TrimPrefix(part, "--") {
			case "room":
				query.RoomID = value
			case "limit":
				if n, err := strconv.Atoi(value); err == nil && n > 0 {
					query.Limit = n
				}
			}
			i++
			continue
		}
		textTerms = append(textTerms, part)
	}

	query.Terms = strings.Join(textTerms, " ")
	return query
}

func (q Query) Empty() bool {
	return strings.TrimSpace(q.Terms) == ""
}
