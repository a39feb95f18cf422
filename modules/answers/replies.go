package answers

import (
	"fmt"
	"strings"
)

const (
	replyNoMemes = "There are no memes yet! " +
		"Use REMEMBER 'meme' WITH 'link or phrase' syntax for creating memes.\n" +
		"For more info see: help remember."
	replyListHeader = "You could ask me for the following memes:"
	replyNotFound   = "There is no such a meme! Use ALL MEMES command."
	replyTransient  = "Sorry, I can't reach my memory right now. Please try again later."
)

func listReply(questions []string) string {
	if len(questions) == 0 {
		return replyNoMemes
	}

	var builder strings.Builder
	builder.WriteString(replyListHeader)
	for idx, question := range questions {
		fmt.Fprintf(&builder, "\n%d) %s", idx+1, question)
	}

	return builder.String()
}

func createdReply(question, answer string) string {
	return fmt.Sprintf("The response for '%s' is '%s'", question, answer)
}

func collisionReply(question, current string) string {
	return "Use CHANGE 'meme' TO 'link or phrase' syntax for existing memes! " +
		"For more info see: help change.\n" +
		fmt.Sprintf("The response for '%s' is still '%s'", question, current)
}

func closestReply(closest string) string {
	return fmt.Sprintf("Found the closest meme to your query: '%s'. ", closest) +
		"Use REMEMBER 'meme' WITH 'link or phrase' syntax for creating memes.\n" +
		"For more info see: help remember."
}

func updatedReply(question, answer string) string {
	return fmt.Sprintf("The new response for '%s' is '%s'.", question, answer)
}

func forgotReply(question string) string {
	return fmt.Sprintf("Forgot '%s'", question)
}
