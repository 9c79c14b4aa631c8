package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/san-kum/dynbranch/internal/branch"
	"github.com/san-kum/dynbranch/internal/indexing"
)

// ExportPoint is one exported row, in logical order.
type ExportPoint struct {
	Logical     int              `json:"logical_index"`
	Storage     int              `json:"storage_index"`
	ParamValue  float64          `json:"param_value"`
	Param2Value *float64         `json:"param2_value,omitempty"`
	Stability   branch.Stability `json:"stability"`
	Bifurcation bool             `json:"bifurcation"`
	State       []float64        `json:"state"`
	Eigenvalues []branch.Complex `json:"eigenvalues,omitempty"`
}

type ExportData struct {
	System        string        `json:"system"`
	Object        string        `json:"object"`
	Branch        string        `json:"branch"`
	Kind          string        `json:"kind"`
	ParameterName string        `json:"parameter_name"`
	Points        []ExportPoint `json:"points"`
}

// Rows flattens b in logical order.
func Rows(b *branch.Branch) []ExportPoint {
	if len(b.Data.Points) == 0 {
		return []ExportPoint{}
	}
	indices := indexing.EnsureIndices(&b.Data)
	bifs := indexing.BifurcationSet(&b.Data)
	order := indexing.SortedOrder(indices)
	rows := make([]ExportPoint, len(order))
	for i, pos := range order {
		p := b.Data.Points[pos]
		rows[i] = ExportPoint{
			Logical:     indices[pos],
			Storage:     pos,
			ParamValue:  p.ParamValue,
			Param2Value: p.Param2Value,
			Stability:   p.Stability,
			Bifurcation: bifs[pos],
			State:       p.State,
			Eigenvalues: p.Eigenvalues,
		}
	}
	return rows
}

func ExportJSON(w io.Writer, b *branch.Branch) error {
	data := ExportData{
		System:        b.SystemName,
		Object:        b.ParentObject,
		Branch:        b.Name,
		Kind:          b.Kind(),
		ParameterName: b.ParameterName,
		Points:        Rows(b),
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func ExportJSONFile(path string, b *branch.Branch) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return ExportJSON(file, b)
}

// ExportCSV writes one row per point in logical order. State columns use
// varNames when the state has exactly that many components.
func ExportCSV(w io.Writer, b *branch.Branch, varNames []string) error {
	rows := Rows(b)
	width, eigs := 0, 0
	hasP2 := false
	for _, r := range rows {
		width = max(width, len(r.State))
		eigs = max(eigs, len(r.Eigenvalues))
		hasP2 = hasP2 || r.Param2Value != nil
	}

	header := []string{"logical_index", "storage_index", "param_value"}
	if hasP2 {
		header = append(header, "param2_value")
	}
	header = append(header, "stability", "bifurcation")
	for i := 0; i < width; i++ {
		if width == len(varNames) {
			header = append(header, varNames[i])
		} else {
			header = append(header, fmt.Sprintf("x%d", i))
		}
	}
	for i := 0; i < eigs; i++ {
		header = append(header, fmt.Sprintf("eig%d_re", i), fmt.Sprintf("eig%d_im", i))
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		row := []string{strconv.Itoa(r.Logical), strconv.Itoa(r.Storage), formatFloat(r.ParamValue)}
		if hasP2 {
			p2 := ""
			if r.Param2Value != nil {
				p2 = formatFloat(*r.Param2Value)
			}
			row = append(row, p2)
		}
		row = append(row, string(r.Stability), strconv.FormatBool(r.Bifurcation))
		for i := 0; i < width; i++ {
			v := ""
			if i < len(r.State) {
				v = formatFloat(r.State[i])
			}
			row = append(row, v)
		}
		for i := 0; i < eigs; i++ {
			re, im := "", ""
			if i < len(r.Eigenvalues) {
				re, im = formatFloat(r.Eigenvalues[i].Re), formatFloat(r.Eigenvalues[i].Im)
			}
			row = append(row, re, im)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 10, 64)
}
