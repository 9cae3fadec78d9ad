package cmd

import (
	"runtime"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/parley/cli/render"
	"github.com/pithecene-io/parley/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	RecordVersion string `json:"record_version"`
	Go            string `json:"go"`
}

// VersionCommand returns the version command. It never contacts the backend.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  OutputFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}
		return r.Render(VersionResponse{
			Version:       types.Version,
			Commit:        commit,
			RecordVersion: types.RecordVersion,
			Go:            runtime.Version(),
		})
	}
}
