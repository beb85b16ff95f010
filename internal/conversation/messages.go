package conversation

import (
	"fmt"
	"strings"

	"github.com/ashureev/videa/internal/domain"
)

const greeting = "Hi! I'm Videa, your personal training advisor. I'm here to help you find the right learning path for your professional development. " +
	"Tell me, what brings you here today? What are you hoping to learn or improve?"

const retryMessage = "Sorry, I couldn't process that just now. Could you send your message again?"

func recommendationMessage(def domain.ProfileDefinition, bundle domain.ContentBundle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Based on everything you've shared, you sound like a great fit for our **%s** track.\n\n", def.Name)
	fmt.Fprintf(&b, "I recommend the **%s** learning path:\n\n", bundle.Name)
	fmt.Fprintf(&b, "%d videos, %d minutes total\n\n", len(bundle.Items), bundle.TotalMinutes())
	for i, item := range bundle.Items {
		fmt.Fprintf(&b, "  %d. %s (%d min)\n", i+1, item.Title, item.DurationMinutes)
	}
	if bundle.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", bundle.Description)
	}
	b.WriteString("\nWould you like to enroll in this learning path?")
	return b.String()
}

func confirmationMessage(outcome domain.Outcome, bundle domain.ContentBundle) string {
	if outcome == domain.OutcomeConfirmed {
		return fmt.Sprintf("Perfect! You're all enrolled in **%s**: %d videos, %d minutes in total. Happy learning!",
			bundle.Name, len(bundle.Items), bundle.TotalMinutes())
	}
	return "No problem! If you change your mind, start a new conversation any time and I'll help you find the right path."
}
