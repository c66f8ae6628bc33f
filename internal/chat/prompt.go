package chat

import (
	"strings"
	"time"
)

const promptTimeLayout = "2006-01-02 15:04:05"

var promptRules = []string{
	"Generate ONLY SELECT queries (no INSERT, UPDATE, DELETE, DROP)",
	"Always use the schema provided by the schema tool",
	"Pass in valid SQL syntax in db tool.",
	"IMPORTANT: To query database call db tool, Don't return just SQL query.",
}

// SystemPrompt renders the instructions sent with every model turn. now is
// printed in its own location so the model sees the server's local time.
func SystemPrompt(now time.Time) string {
	var b strings.Builder
	b.WriteString("You are an expert SQL assistant that helps users to query their database using natural language.\n\n")
	b.WriteString(now.Format(promptTimeLayout))
	b.WriteString("\nYou have access to following tools:\n")
	b.WriteString("1. db tool - call this tool to query the database.\n")
	b.WriteString("2. schema tool - call this tool to get the database schema which will help you to write sql query.\n\n")
	b.WriteString("Rules:\n")
	for _, rule := range promptRules {
		b.WriteString("- ")
		b.WriteString(rule)
		b.WriteString("\n")
	}
	b.WriteString("\nAlways respond in a helpful, conversational tone while being technically accurate.")
	return b.String()
}
