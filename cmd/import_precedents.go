package main

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caflow/cma-engine/internal/classify"
	"github.com/caflow/cma-engine/internal/cma"
	"github.com/caflow/cma-engine/internal/model"
)

var importFlags struct {
	firmID string
	scope  string
}

// importPrecedentsCmd bulk-loads classification precedents from a CSV or
// JSON export, normalizing terms the same way the classifier does.
var importPrecedentsCmd = &cobra.Command{
	Use:   "import-precedents <file>",
	Short: "Bulk-import classification precedents from CSV or JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scope := model.PrecedentScope(importFlags.scope)
		if scope != model.ScopeFirm && scope != model.ScopeGlobal {
			return eris.Errorf("unknown scope %q", importFlags.scope)
		}
		if scope == model.ScopeFirm && importFlags.firmID == "" {
			return eris.New("--firm is required for firm-scoped precedents")
		}

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "open precedent file")
		}
		defer f.Close()

		var precedents []model.Precedent
		if strings.HasSuffix(args[0], ".json") {
			precedents, err = readPrecedentJSON(f)
		} else {
			precedents, err = readPrecedentCSV(f)
		}
		if err != nil {
			return err
		}

		for i := range precedents {
			precedents[i].SourceTerm = classify.NormalizeTerm(precedents[i].SourceTerm)
			precedents[i].Scope = scope
			if scope == model.ScopeGlobal {
				precedents[i].FirmID = ""
			} else {
				precedents[i].FirmID = importFlags.firmID
			}
			if cma.LabelFor(precedents[i].TargetSheet, precedents[i].TargetRow) == "" {
				return eris.Errorf("row %d: no CMA row %d on sheet %q",
					i+1, precedents[i].TargetRow, precedents[i].TargetSheet)
			}
		}

		e, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		n, err := e.Store.ImportPrecedents(cmd.Context(), precedents)
		if err != nil {
			return eris.Wrap(err, "import precedents")
		}
		zap.L().Info("precedents imported", zap.Int64("count", n))
		return nil
	},
}

func readPrecedentJSON(r io.Reader) ([]model.Precedent, error) {
	var precedents []model.Precedent
	if err := json.NewDecoder(r).Decode(&precedents); err != nil {
		return nil, eris.Wrap(err, "parse precedent JSON")
	}
	return precedents, nil
}

// readPrecedentCSV parses rows of source_term,target_row,target_sheet,entity_type.
// A header row is detected and skipped.
func readPrecedentCSV(r io.Reader) ([]model.Precedent, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "parse precedent CSV")
	}

	var precedents []model.Precedent
	for i, rec := range records {
		if len(rec) < 4 {
			return nil, eris.Errorf("row %d: expected 4 columns, got %d", i+1, len(rec))
		}
		if i == 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "source_term") {
			continue
		}
		row, err := strconv.Atoi(strings.TrimSpace(rec[1]))
		if err != nil {
			return nil, eris.Wrapf(err, "row %d: target_row", i+1)
		}
		precedents = append(precedents, model.Precedent{
			SourceTerm:  strings.TrimSpace(rec[0]),
			TargetRow:   row,
			TargetSheet: strings.TrimSpace(rec[2]),
			EntityType:  model.EntityType(strings.TrimSpace(rec[3])),
		})
	}
	return precedents, nil
}

func init() {
	importPrecedentsCmd.Flags().StringVar(&importFlags.firmID, "firm", "", "firm ID owning the precedents")
	importPrecedentsCmd.Flags().StringVar(&importFlags.scope, "scope", "firm", "precedent scope (firm|global)")
	rootCmd.AddCommand(importPrecedentsCmd)
}
