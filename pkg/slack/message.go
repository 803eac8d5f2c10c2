package slack

import (
	"fmt"
	"unicode/utf8"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

var statusEmoji = map[string]string{
	"completed": ":white_check_mark:",
	"failed":    ":x:",
	"timeout":   ":hourglass:",
}

var statusLabel = map[string]string{
	"completed": "Investigation Complete",
	"failed":    "Investigation Failed",
	"timeout":   "Investigation Timed Out",
}

func runURL(runID, dashboardURL string) string {
	return fmt.Sprintf("%s/runs/%s", dashboardURL, runID)
}

// BuildStartedMessage creates Block Kit blocks for a run start notification.
func BuildStartedMessage(runID, dashboardURL string) []goslack.Block {
	url := runURL(runID, dashboardURL)
	text := fmt.Sprintf(":arrows_counterclockwise: *Processing started* — this may take a few minutes.\n<%s|View in Dashboard>", url)

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}

// BuildTerminalMessage creates Block Kit blocks for a terminal run notification.
func BuildTerminalMessage(input RunCompletedInput, dashboardURL string) []goslack.Block {
	emoji := statusEmoji[input.Status]
	if emoji == "" {
		emoji = ":question:"
	}
	label := statusLabel[input.Status]
	if label == "" {
		label = "Investigation " + input.Status
	}

	var blocks []goslack.Block

	if input.Status == "completed" {
		content := input.Findings

		if content != "" {
			headerText := fmt.Sprintf("%s *%s*", emoji, label)
			blocks = append(blocks, goslack.NewSectionBlock(
				goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
				nil, nil,
			))
			blocks = append(blocks, goslack.NewSectionBlock(
				goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(content), false, false),
				nil, nil,
			))
		} else {
			headerText := fmt.Sprintf("%s *%s*", emoji, label)
			blocks = append(blocks, goslack.NewSectionBlock(
				goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
				nil, nil,
			))
		}
	} else {
		headerText := fmt.Sprintf("%s *%s*", emoji, label)
		if input.ErrorMessage != "" {
			headerText += fmt.Sprintf("\n\n*Error:*\n%s", truncateForSlack(input.ErrorMessage))
		}
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
			nil, nil,
		))
	}

	url := runURL(input.RunID, dashboardURL)
	buttonText := "View Full Analysis"
	if input.Status != "completed" {
		buttonText = "View Details"
	}

	btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, buttonText, false, false))
	btn.URL = url
	blocks = append(blocks, goslack.NewActionBlock("", btn))

	return blocks
}

func truncateForSlack(text string) string {
	if utf8.RuneCountInString(text) <= maxBlockTextLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxBlockTextLength]) + "\n\n_... (truncated — view full analysis in dashboard)_"
}
