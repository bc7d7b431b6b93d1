// Command pathdump prints engine output for the body catalog: orbit paths,
// position tables and apsides. It is a diagnostic tool for checking a
// catalog file before deploying it.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AmoditYadav/amodit-space/internal/apsides"
	"github.com/AmoditYadav/amodit-space/internal/catalog"
	"github.com/AmoditYadav/amodit-space/internal/kepler"
)

var (
	catalogPath string
	format      string

	segments int

	fromT, toT, stepT float64
	ids               []string

	span      float64
	maxEvents int
)

var rootCmd = &cobra.Command{
	Use:           "pathdump",
	Short:         "Dump orbital engine output for a body catalog",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var pathCmd = &cobra.Command{
	Use:   "path <body-id>",
	Short: "Print the sampled orbit path of one body",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := loadCatalog()
		if err != nil {
			return err
		}
		b, ok := ds.Lookup(args[0])
		if !ok {
			return fmt.Errorf("%w: %s", catalog.ErrUnknownBody, args[0])
		}
		if segments < 1 {
			return fmt.Errorf("--segments must be at least 1")
		}
		return writePath(cmd.OutOrStdout(), b, segments)
	},
}

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "Print positions and relative speeds over a sim time range",
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := loadCatalog()
		if err != nil {
			return err
		}
		if !(stepT > 0) || toT < fromT {
			return fmt.Errorf("need --step > 0 and --to >= --from")
		}
		bodies, err := selectBodies(ds, ids)
		if err != nil {
			return err
		}
		return writePositions(cmd.OutOrStdout(), bodies, fromT, toT, stepT)
	},
}

var apsidesCmd = &cobra.Command{
	Use:   "apsides",
	Short: "Predict periapsis and apoapsis passages",
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := loadCatalog()
		if err != nil {
			return err
		}
		bodies, err := selectBodies(ds, ids)
		if err != nil {
			return err
		}
		results := apsides.Predict(cmd.Context(), apsides.Request{
			Bodies:    bodies,
			Start:     fromT,
			Span:      span,
			MaxEvents: maxEvents,
		})
		return writeApsides(cmd.OutOrStdout(), results)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "catalog file (default: built-in bodies)")
	rootCmd.PersistentFlags().StringVar(&format, "format", "csv", "output format: csv or json")

	pathCmd.Flags().IntVar(&segments, "segments", kepler.DefaultSegments, "number of path segments")

	positionsCmd.Flags().Float64Var(&fromT, "from", 0, "first sim time")
	positionsCmd.Flags().Float64Var(&toT, "to", 120, "last sim time")
	positionsCmd.Flags().Float64Var(&stepT, "step", 1, "sim time step")
	positionsCmd.Flags().StringSliceVar(&ids, "ids", nil, "bodies to include (default: all)")

	apsidesCmd.Flags().Float64Var(&fromT, "from", 0, "sim time to start searching")
	apsidesCmd.Flags().Float64Var(&span, "span", 500, "sim time span to search")
	apsidesCmd.Flags().IntVar(&maxEvents, "max", apsides.DefaultMaxEvents, "max events per body")
	apsidesCmd.Flags().StringSliceVar(&ids, "ids", nil, "bodies to include (default: all)")

	rootCmd.AddCommand(pathCmd, positionsCmd, apsidesCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "pathdump:", err)
		os.Exit(1)
	}
}

func loadCatalog() (*catalog.Dataset, error) {
	if catalogPath == "" {
		return &catalog.Dataset{Source: "builtin", LoadedAt: time.Now(), Bodies: catalog.DefaultBodies()}, nil
	}
	return catalog.Load(catalogPath)
}

func selectBodies(ds *catalog.Dataset, ids []string) ([]catalog.Body, error) {
	if len(ids) == 0 {
		return ds.Bodies, nil
	}
	out := make([]catalog.Body, 0, len(ids))
	for _, id := range ids {
		b, ok := ds.Lookup(strings.TrimSpace(id))
		if !ok {
			return nil, fmt.Errorf("%w: %s", catalog.ErrUnknownBody, id)
		}
		out = append(out, b)
	}
	return out, nil
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func writePath(w io.Writer, b catalog.Body, segments int) error {
	points := kepler.OrbitPath(b.Orbit, segments)
	if format == "json" {
		return json.NewEncoder(w).Encode(map[string]any{"id": b.ID, "segments": segments, "points": points})
	}

	cw := csv.NewWriter(w)
	cw.Write([]string{"i", "x", "y", "z"})
	for i, p := range points {
		cw.Write([]string{strconv.Itoa(i), ftoa(p[0]), ftoa(p[1]), ftoa(p[2])})
	}
	cw.Flush()
	return cw.Error()
}

type positionRow struct {
	T     float64     `json:"t"`
	ID    string      `json:"id"`
	P     kepler.Vec3 `json:"p"`
	Speed float64     `json:"speed"`
}

func writePositions(w io.Writer, bodies []catalog.Body, from, to, step float64) error {
	var rows []positionRow
	for i := 0; ; i++ {
		t := from + float64(i)*step
		if t > to {
			break
		}
		for _, b := range bodies {
			st := kepler.StateAt(b.Orbit, t)
			rows = append(rows, positionRow{T: t, ID: b.ID, P: st.Position(b.Orbit), Speed: st.RelativeSpeed(b.Orbit)})
		}
	}

	if format == "json" {
		return json.NewEncoder(w).Encode(rows)
	}

	cw := csv.NewWriter(w)
	cw.Write([]string{"t", "id", "x", "y", "z", "speed"})
	for _, r := range rows {
		cw.Write([]string{ftoa(r.T), r.ID, ftoa(r.P[0]), ftoa(r.P[1]), ftoa(r.P[2]), ftoa(r.Speed)})
	}
	cw.Flush()
	return cw.Error()
}

func writeApsides(w io.Writer, results []apsides.BodyApsides) error {
	if format == "json" {
		return json.NewEncoder(w).Encode(results)
	}

	cw := csv.NewWriter(w)
	cw.Write([]string{"id", "kind", "t", "radius", "error"})
	for _, r := range results {
		if r.Error != "" {
			cw.Write([]string{r.ID, "", "", "", r.Error})
			continue
		}
		for _, ev := range r.Events {
			cw.Write([]string{r.ID, ev.Kind, ftoa(ev.SimTime), ftoa(ev.Radius), ""})
		}
	}
	cw.Flush()
	return cw.Error()
}
