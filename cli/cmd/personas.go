package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/parley/cli/render"
	"github.com/pithecene-io/parley/types"
)

// PersonasResponse lists the personas the backend offers.
type PersonasResponse []types.Persona

// Headers implements render.Tabular.
func (p PersonasResponse) Headers() []string {
	return []string{"ID", "NAME", "DEFAULT", "DESCRIPTION"}
}

// Rows implements render.Tabular.
func (p PersonasResponse) Rows() [][]string {
	rows := make([][]string, 0, len(p))
	for _, persona := range p {
		def := ""
		if persona.Default {
			def = "yes"
		}
		rows = append(rows, []string{persona.ID.String(), persona.Name, def, clip(persona.Description, 60)})
	}
	return rows
}

// PersonasCommand returns the personas command.
func PersonasCommand() *cli.Command {
	return &cli.Command{
		Name:   "personas",
		Usage:  "List available personas",
		Flags:  ReadFlags(),
		Action: personasAction,
	}
}

func personasAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	client, done, err := openBackend(c)
	if err != nil {
		return exitWith(err)
	}
	defer done()

	personas, err := client.ListPersonas(c.Context)
	if err != nil {
		return exitWith(err)
	}
	if personas == nil {
		personas = []types.Persona{}
	}
	return r.Render(PersonasResponse(personas))
}
