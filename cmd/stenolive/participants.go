package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jwulff/steno-live/internal/logging"
	"github.com/jwulff/steno-live/internal/model"
	"github.com/jwulff/steno-live/internal/participant"
)

// Participant command flags.
var (
	participantsOutput  string
	participantsSpeaker int

	assignTopic       string
	assignFrom        float64
	assignTo          float64
	assignParticipant string
	assignSpeaker     int
	assignOutput      string
)

func newParticipantsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "participants",
		Short: "Manage session participants",
		Long: `Manage the named participants of a session. A participant aliases a
speaker label; assigning a range to a participant relabels its words.

Examples:
  stenolive participants list <session-id>
  stenolive participants add <session-id> "Ada Lovelace" --speaker 1
  stenolive participants rm <session-id> <participant-id>`,
		Aliases: []string{"participant", "people"},
	}
	cmd.AddCommand(newParticipantsListCommand())
	cmd.AddCommand(newParticipantsAddCommand())
	cmd.AddCommand(newParticipantsRemoveCommand())
	return cmd
}

func newParticipantsListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list <session-id>",
		Short:   "List participants",
		Aliases: []string{"ls"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeStore, err := newParticipantService()
			if err != nil {
				return err
			}
			defer closeStore()
			ps, err := svc.list(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printParticipants(ps, participantsOutput)
		},
	}
	cmd.Flags().StringVarP(&participantsOutput, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}

func newParticipantsAddCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <session-id> <name>",
		Short: "Add a participant",
		Long: `Add a participant. With --speaker the participant takes over that
speaker label; otherwise the server allocates a new one.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeStore, err := newParticipantService()
			if err != nil {
				return err
			}
			defer closeStore()

			var ps []model.Participant
			if cmd.Flags().Changed("speaker") {
				ps, err = svc.CreateForSpeaker(cmd.Context(), args[0], args[1], participantsSpeaker)
			} else {
				ps, err = svc.Create(cmd.Context(), args[0], args[1])
			}
			if err != nil {
				return err
			}
			svc.cache(args[0], ps)
			return printParticipants(ps, "")
		},
	}
	cmd.Flags().IntVar(&participantsSpeaker, "speaker", 0, "Existing speaker number to alias")
	return cmd
}

func newParticipantsRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <session-id> <participant-id>",
		Short:   "Remove a participant",
		Aliases: []string{"remove", "delete"},
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeStore, err := newParticipantService()
			if err != nil {
				return err
			}
			defer closeStore()
			ps, err := svc.Delete(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			svc.cache(args[0], ps)
			return printParticipants(ps, "")
		},
	}
}

func newAssignCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assign <session-id>",
		Short: "Attribute an audio range to a participant or speaker",
		Long: `Relabel every word in [--from, --to] seconds. The topic's words are
printed as re-read from the server.

Examples:
  stenolive assign <session-id> --topic t1 --from 12.5 --to 19 --participant p1
  stenolive assign <session-id> --topic t1 --from 12.5 --to 19 --speaker 2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeStore, err := newParticipantService()
			if err != nil {
				return err
			}
			defer closeStore()

			slice := model.TimeSlice{Start: assignFrom, End: assignTo}
			var words model.TopicWords
			switch {
			case assignParticipant != "":
				words, err = svc.Assign(cmd.Context(), args[0], assignTopic, model.Participant{ID: assignParticipant}, &slice)
			case cmd.Flags().Changed("speaker"):
				words, err = svc.AssignSpeaker(cmd.Context(), args[0], assignTopic, assignSpeaker, &slice)
			default:
				return fmt.Errorf("one of --participant or --speaker is required")
			}
			if err != nil {
				return err
			}
			return printWords(words, assignOutput)
		},
	}
	cmd.Flags().StringVar(&assignTopic, "topic", "", "Topic ID whose words to print")
	cmd.Flags().Float64Var(&assignFrom, "from", 0, "Range start in seconds")
	cmd.Flags().Float64Var(&assignTo, "to", 0, "Range end in seconds")
	cmd.Flags().StringVar(&assignParticipant, "participant", "", "Participant ID")
	cmd.Flags().IntVar(&assignSpeaker, "speaker", 0, "Speaker number")
	cmd.Flags().StringVarP(&assignOutput, "output", "o", "", "Output format: text, json, yaml")
	_ = cmd.MarkFlagRequired("topic")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// participantService pairs the server-backed service with the local cache.
type participantService struct {
	*participant.Service
	store participantCache
}

type participantCache interface {
	ReplaceParticipants(sessionID string, ps []model.Participant) error
	ParticipantsForSession(sessionID string) ([]model.Participant, error)
}

func newParticipantService() (*participantService, func(), error) {
	client, err := newClient()
	if err != nil {
		return nil, nil, err
	}
	svc := &participantService{Service: participant.New(client, log, stats)}
	closeStore := func() {}
	if store := openStore(); store != nil {
		svc.store = store
		closeStore = func() { _ = store.Close() }
	}
	return svc, closeStore, nil
}

// list reads from the server and falls back to the cache.
func (s *participantService) list(ctx context.Context, sessionID string) ([]model.Participant, error) {
	ps, err := s.List(ctx, sessionID)
	if err == nil {
		s.cache(sessionID, ps)
		return ps, nil
	}
	if s.store == nil {
		return nil, err
	}
	cached, cerr := s.store.ParticipantsForSession(sessionID)
	if cerr != nil || len(cached) == 0 {
		return nil, err
	}
	log.Warn("server unavailable, using cached participants", logging.Err(err))
	return cached, nil
}

func (s *participantService) cache(sessionID string, ps []model.Participant) {
	if s.store == nil {
		return
	}
	if err := s.store.ReplaceParticipants(sessionID, ps); err != nil {
		log.Warn("caching participants failed", logging.Err(err))
	}
}

func printParticipants(ps []model.Participant, format string) error {
	switch format {
	case "json":
		return printJSON(ps)
	case "yaml":
		return printYAML(ps)
	}
	if len(ps) == 0 {
		fmt.Println("No participants.")
		return nil
	}
	fmt.Printf("%-38s %-8s %s\n", "ID", "SPEAKER", "NAME")
	for _, p := range ps {
		fmt.Printf("%-38s %-8d %s\n", p.ID, p.Speaker, p.Name)
	}
	return nil
}

func printWords(words model.TopicWords, format string) error {
	switch format {
	case "json":
		return printJSON(words)
	case "yaml":
		return printYAML(words)
	}
	for _, g := range words.Groups {
		fmt.Printf("Speaker %d:", g.Speaker)
		for _, w := range g.Words {
			fmt.Printf(" %s", w.Text)
		}
		fmt.Println()
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printYAML(v any) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}
