package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vuuvv/vdissect"
	"github.com/vuuvv/vdissect/core"
)

var (
	decodeStats   bool
	decodeErrOnly bool
)

var decodeCmd = &cobra.Command{
	Use:   "decode <trace.yaml>",
	Short: "Decode a YAML trace and print the field trees",
	Long: `Decode every frame of a YAML trace in order and print one field tree per
frame, followed by the messages still incomplete at the end of the trace.

Examples:
  # Decode a trace with the built-in dissectors
  vdissect decode testdata/mpsse.yaml

  # Apply decode-as rules and heuristics from a config file
  vdissect decode --config vdissect.yaml trace.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

func init() {
	decodeCmd.Flags().BoolVar(&decodeStats, "stats", false, "Print session statistics at the end")
	decodeCmd.Flags().BoolVar(&decodeErrOnly, "errors", false, "Only print frames with warnings or errors")
}

func runDecode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	trace, err := vdissect.LoadTrace(args[0])
	if err != nil {
		return err
	}
	frames, err := trace.ToFrames()
	if err != nil {
		return err
	}
	session, err := vdissect.NewSession(cfg, nil)
	if err != nil {
		return err
	}
	defer session.Close()

	out := cmd.OutOrStdout()
	for _, frame := range frames {
		printTree(out, session.Dispatch(frame))
	}
	for _, tree := range session.Flush() {
		printTree(out, tree)
	}
	if decodeStats {
		st := session.Stats()
		fmt.Fprintf(out, "frames=%d rejected=%d annotated=%d conversations=%d reassembly=%d/%d/%d\n",
			st.Frames, st.Rejected, st.Annotated, st.Conversations,
			st.Reassembly.Opened, st.Reassembly.Completed, st.Reassembly.Abandoned)
	}
	return nil
}

func printTree(out io.Writer, tree *core.Field) {
	if decodeErrOnly && !tree.HasSeverity(core.SeverityWarn) {
		return
	}
	fmt.Fprintln(out, tree.Dump())
}
