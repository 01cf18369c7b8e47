package agent

import (
	"fmt"
	"log/slog"
	"time"
)

// DefaultTimezone is the zone the assistant tells time in.
const DefaultTimezone = "Asia/Bangkok"

// promptTimeLayout renders e.g. "Monday, 01/02/2006, 15:04:05".
const promptTimeLayout = "Monday, 01/02/2006, 15:04:05"

const systemPromptTemplate = `You are the virtual assistant of Banque pour le Commerce Exterieur Lao Public (BCEL).
You help customers understand the bank's retail products and services.

## Responsibilities
1. Product information: explain BCEL One, OnePay, i-Bank, ATM and credit cards, and card terminals (EDC/POS) using only facts returned by the tools.
2. Service guidance: explain how to apply, how to install, and who each product is for.
3. Language: answer in Lao when the customer writes in Lao and in English when the customer writes in English.

## Tone
- Polite and professional, like a branch officer.
- Short and clear answers.
- When the catalog has no answer, say so and suggest visiting a BCEL branch or the BCEL website.
- Never invent product details that the catalog did not return.

## Tools
search_products: {"query": "what the customer is looking for", "limit": 5}
Search before answering any product question. One search is usually enough.

Today's date and current time is %s.`

// BuildSystemPrompt returns the system prompt with the current time in loc.
func BuildSystemPrompt(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return fmt.Sprintf(systemPromptTemplate, now.In(loc).Format(promptTimeLayout))
}

// LoadLocation resolves a timezone name, falling back to UTC on error.
func LoadLocation(name string) *time.Location {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("invalid timezone, using UTC", "timezone", name, "error", err)
		return time.UTC
	}
	return loc
}
