package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/kozaktomas/camflow/internal/imaging"
	"github.com/spf13/cobra"
)

var personCmd = &cobra.Command{
	Use:   "person",
	Short: "Manage the person groups used for face recognition",
}

var personAddCmd = &cobra.Command{
	Use:   "add <name> <image>",
	Short: "Add the faces in a reference image to a person",
	Long: `Detect every face in the reference image and add its embedding to the
named person, creating the person when needed. Names are matched ignoring
case and diacritics.`,
	Args: cobra.ExactArgs(2),
	RunE: runPersonAdd,
}

var personListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known persons",
	Args:  cobra.NoArgs,
	RunE:  runPersonList,
}

var personDeleteCmd = &cobra.Command{
	Use:   "delete <person-id>",
	Short: "Delete a person and all reference embeddings",
	Args:  cobra.ExactArgs(1),
	RunE:  runPersonDelete,
}

func init() {
	rootCmd.AddCommand(personCmd)
	personCmd.AddCommand(personAddCmd, personListCmd, personDeleteCmd)

	personListCmd.Flags().Bool("json", false, "Output as JSON")
}

func runPersonAdd(cmd *cobra.Command, args []string) error {
	name, ref := args[0], args[1]

	a, _, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.inference.Ready(ctx); err != nil {
		return err
	}

	data, err := a.images.Load(ctx, ref)
	if err != nil {
		return err
	}
	img, err := imaging.Decode(data)
	if err != nil {
		return err
	}

	added, err := a.persons.AddReference(ctx, img, name)
	if err != nil {
		return err
	}
	if !added {
		return fmt.Errorf("no usable face found in %s", ref)
	}
	fmt.Printf("Added reference for %s\n", name)
	return nil
}

func runPersonList(cmd *cobra.Command, args []string) error {
	a, _, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	groups := a.persons.Groups()
	if mustGetBool(cmd, "json") {
		type person struct {
			ID         string `json:"id"`
			Name       string `json:"name"`
			References int    `json:"references"`
		}
		out := make([]person, 0, len(groups))
		for _, g := range groups {
			out = append(out, person{ID: g.ID, Name: g.Name, References: len(g.Embeddings)})
		}
		return json.NewEncoder(os.Stdout).Encode(out)
	}
	if len(groups) == 0 {
		fmt.Println("No persons found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tREFERENCES\tUPDATED")
	for _, g := range groups {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", g.ID, g.Name, len(g.Embeddings), g.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runPersonDelete(cmd *cobra.Command, args []string) error {
	a, _, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ok, err := a.persons.DeleteGroup(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("person %s not found", args[0])
	}
	fmt.Printf("Deleted person %s\n", args[0])
	return nil
}
