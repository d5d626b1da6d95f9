package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/adaptive-memory/internal/model"
)

func init() {
	feedback := &cobra.Command{
		Use:   "feedback",
		Short: "Learn from a feedback event",
		Long: "Run a feedback event through processing, integration, protection and application.\n" +
			"Describe the event with flags, or pipe a JSON event on stdin when --type is omitted.",
		Run: runFeedback,
	}
	feedback.Flags().String("type", "", "Feedback type, e.g. direct_correction, rule_definition, suggestion_ignored")
	feedback.Flags().StringToString("data", nil, "Event data as key=value pairs")
	feedback.Flags().StringToString("context", nil, "Context metadata as key=value pairs")
	feedback.Flags().String("tone", "", "Emotional tone: neutral, positive, negative, frustrated, pleased, confused")

	interaction := &cobra.Command{
		Use:   "interaction",
		Short: "Record an interaction for behavioral learning",
		Long:  "Describe the interaction with flags, or pipe a JSON event on stdin when --event-type is omitted.",
		Run:   runInteraction,
	}
	interaction.Flags().String("event-type", "", "Interaction type")
	interaction.Flags().String("content", "", "What the user sent")
	interaction.Flags().String("response", "", "What the assistant answered")
	interaction.Flags().Float64("duration", 0, "Duration in seconds")
	interaction.Flags().Float64("engagement", 0.5, "Engagement score in [0,1]")
	interaction.Flags().StringToString("meta", nil, "Metadata as key=value pairs")

	RootCmd.AddCommand(feedback, interaction)
}

func decodeStdin(v any) error {
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("parse json: %w", err)
	}
	return nil
}

func runFeedback(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	data, _ := cmd.Flags().GetStringToString("data")
	meta, _ := cmd.Flags().GetStringToString("context")
	tone, _ := cmd.Flags().GetString("tone")

	var ev model.FeedbackEvent
	if typ == "" {
		if err := decodeStdin(&ev); err != nil {
			exitErr("feedback", err)
		}
	} else {
		ev = model.FeedbackEvent{Type: model.FeedbackType(typ), Data: data, Tone: model.EmotionalTone(tone)}
		if len(meta) > 0 {
			ev.Context = &model.Context{Metadata: meta}
		}
	}
	if ev.UserID == "" {
		ev.UserID = userFlag
	}

	s, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer s.Close()

	report, err := s.ProcessFeedback(cmd.Context(), &ev)
	if err != nil {
		exitErr("feedback", err)
	}
	output(report)
}

func runInteraction(cmd *cobra.Command, args []string) {
	eventType, _ := cmd.Flags().GetString("event-type")
	content, _ := cmd.Flags().GetString("content")
	response, _ := cmd.Flags().GetString("response")
	duration, _ := cmd.Flags().GetFloat64("duration")
	engagement, _ := cmd.Flags().GetFloat64("engagement")
	meta, _ := cmd.Flags().GetStringToString("meta")

	var ev model.InteractionEvent
	if eventType == "" {
		if err := decodeStdin(&ev); err != nil {
			exitErr("interaction", err)
		}
	} else {
		ev = model.InteractionEvent{
			EventType:       eventType,
			Content:         content,
			Response:        response,
			DurationSeconds: duration,
			Engagement:      engagement,
			Metadata:        meta,
		}
	}
	if ev.UserID == "" {
		ev.UserID = userFlag
	}

	s, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer s.Close()

	report, err := s.ProcessInteraction(cmd.Context(), &ev)
	if err != nil {
		exitErr("interaction", err)
	}
	output(report)
}
