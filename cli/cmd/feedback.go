package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/parley/backend"
	"github.com/pithecene-io/parley/cli/render"
	"github.com/pithecene-io/parley/types"
)

// FeedbackResponse confirms a recorded vote.
type FeedbackResponse struct {
	MessageID types.ID   `json:"message_id"`
	Vote      types.Vote `json:"vote"`
}

// FeedbackCommand returns the feedback command.
func FeedbackCommand() *cli.Command {
	return &cli.Command{
		Name:  "feedback",
		Usage: "Vote on an assistant message",
		Flags: append(ReadFlags(),
			&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Usage: "Assistant message id", Required: true},
			&cli.StringFlag{Name: "vote", Usage: "upvote or downvote (up/down, +1/-1)", Required: true},
		),
		Action: feedbackAction,
	}
}

func feedbackAction(c *cli.Context) error {
	vote, err := types.ParseVote(c.String("vote"))
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	id := types.ID(c.String("message"))
	if id.IsZero() {
		return cli.Exit("--message must be non-empty", exitError)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	client, done, err := openBackend(c)
	if err != nil {
		return exitWith(err)
	}
	defer done()

	if err := client.SendFeedback(c.Context, backend.FeedbackRequest{MessageID: id, Vote: vote}); err != nil {
		return exitWith(err)
	}
	return r.Render(FeedbackResponse{MessageID: id, Vote: vote})
}
