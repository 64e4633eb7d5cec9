package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/canonica-labs/cubecompile/internal/compiler"
	"github.com/canonica-labs/cubecompile/internal/filter"
	"github.com/canonica-labs/cubecompile/internal/physical"
	"github.com/canonica-labs/cubecompile/internal/plan"
)

// queryRequestDTO is the JSON-friendly shape of a cube query read from
// --query: a flat filter list (ANDed together), mirroring the REST query
// shape the schema's own cube definitions describe rather than
// compiler.QueryRequest's filter.Item tree directly, since that sum type
// has no natural JSON encoding.
type queryRequestDTO struct {
	Measures       []string               `json:"measures"`
	Dimensions     []string               `json:"dimensions"`
	TimeDimensions []timeDimensionDTO     `json:"timeDimensions"`
	Filters        []filterItemDTO        `json:"filters"`
	OrderBy        []orderByDTO           `json:"order"`
	Limit          int                    `json:"limit"`
	Offset         int                    `json:"offset"`
	Ungrouped      bool                   `json:"ungrouped"`
	Timezone       string                 `json:"timezone"`
	ReuseParams    bool                   `json:"reuseParams"`
}

type timeDimensionDTO struct {
	Dimension   string `json:"dimension"`
	Granularity string `json:"granularity"`
	DateRange   []string `json:"dateRange"`
}

type filterItemDTO struct {
	Member   string   `json:"member"`
	Operator string   `json:"operator"`
	Values   []string `json:"values"`
}

type orderByDTO struct {
	Member string `json:"member"`
	Desc   bool   `json:"desc"`
}

func loadQueryRequest(path string) (compiler.QueryRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return compiler.QueryRequest{}, fmt.Errorf("cli: reading query file: %w", err)
	}
	var dto queryRequestDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return compiler.QueryRequest{}, fmt.Errorf("cli: parsing query JSON: %w", err)
	}
	return dto.toQueryRequest(), nil
}

func (dto queryRequestDTO) toQueryRequest() compiler.QueryRequest {
	req := compiler.QueryRequest{
		Measures:          dto.Measures,
		Dimensions:        dto.Dimensions,
		Limit:             dto.Limit,
		Offset:            dto.Offset,
		Ungrouped:         dto.Ungrouped,
		Timezone:          dto.Timezone,
		ShouldReuseParams: dto.ReuseParams,
	}
	for _, td := range dto.TimeDimensions {
		tdr := compiler.TimeDimensionRequest{Path: td.Dimension, Granularity: td.Granularity}
		if len(td.DateRange) == 2 {
			tdr.DateRangeFrom, tdr.DateRangeTo = td.DateRange[0], td.DateRange[1]
		}
		req.TimeDimensions = append(req.TimeDimensions, tdr)
	}
	for _, ob := range dto.OrderBy {
		req.OrderBy = append(req.OrderBy, plan.OrderExpr{Symbol: ob.Member, Desc: ob.Desc})
	}
	if len(dto.Filters) > 0 {
		var items []filter.Item
		for _, f := range dto.Filters {
			items = append(items, filter.ValueItem{Symbol: f.Member, Op: filter.Op(f.Operator), Values: f.Values})
		}
		if len(items) == 1 {
			req.Filters = items[0]
		} else {
			req.Filters = filter.Group{Kind: filter.GroupAnd, Items: items}
		}
	}
	return req
}

// valuesToJSON renders a params vector as plain JSON scalars rather than
// physical.Value's internal tagged-union shape, matching what a caller
// reading --json output would expect a parameter list to look like.
func valuesToJSON(values []physical.Value) []interface{} {
	out := make([]interface{}, 0, len(values))
	for _, v := range values {
		switch v.Kind {
		case physical.KindString:
			out = append(out, v.Str)
		case physical.KindNumber:
			out = append(out, v.Num.String())
		case physical.KindBool:
			out = append(out, v.Bool)
		default:
			out = append(out, nil)
		}
	}
	return out
}

func outputJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
