package reconcile

import (
	"encoding/json"
	"fmt"

	"github.com/InsulaLabs/strata/internal/apierr"
	"github.com/InsulaLabs/strata/internal/tristate"
)

// InUse is the wire enum satellites use for the in-use signal.
type InUse string

const (
	InUseFalse   InUse = "FALSE"
	InUseTrue    InUse = "TRUE"
	InUseUnknown InUse = "UNKNOWN"
)

// StatePayload is the body of a resource state stream update. Absent fields
// decode as unknown.
type StatePayload struct {
	Ready          *bool  `json:"ready,omitempty"`
	InUse          InUse  `json:"inUse,omitempty"`
	UpToDate       *bool  `json:"upToDate,omitempty"`
	PromotionScore *int32 `json:"promotionScore,omitempty"`
	MayPromote     *bool  `json:"mayPromote,omitempty"`
}

// ResourceState is the decoded state that is cached and forwarded.
type ResourceState struct {
	Ready          tristate.Bool `json:"ready"`
	InUse          tristate.Bool `json:"inUse"`
	UpToDate       tristate.Bool `json:"upToDate"`
	PromotionScore tristate.Int  `json:"promotionScore"`
	MayPromote     tristate.Bool `json:"mayPromote"`
}

func decodeInUse(v InUse) (tristate.Bool, error) {
	switch v {
	case InUseFalse:
		return tristate.False, nil
	case InUseTrue:
		return tristate.True, nil
	case InUseUnknown, "":
		return tristate.Unknown, nil
	default:
		return tristate.Unknown, apierr.Implementation(fmt.Sprintf("unexpected in-use value %q", string(v)), nil)
	}
}

func DecodeResourceState(data []byte) (ResourceState, error) {
	var p StatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ResourceState{}, fmt.Errorf("decoding resource state: %w", err)
	}
	inUse, err := decodeInUse(p.InUse)
	if err != nil {
		return ResourceState{}, err
	}
	return ResourceState{
		Ready:          tristate.FromPtr(p.Ready),
		InUse:          inUse,
		UpToDate:       tristate.FromPtr(p.UpToDate),
		PromotionScore: tristate.IntFromPtr(p.PromotionScore),
		MayPromote:     tristate.FromPtr(p.MayPromote),
	}, nil
}

// EncodeResourceState is the inverse of DecodeResourceState, used by
// satellites and tests.
func EncodeResourceState(st ResourceState) ([]byte, error) {
	p := StatePayload{
		Ready:          st.Ready.Ptr(),
		UpToDate:       st.UpToDate.Ptr(),
		PromotionScore: st.PromotionScore.Ptr(),
		MayPromote:     st.MayPromote.Ptr(),
	}
	switch st.InUse {
	case tristate.True:
		p.InUse = InUseTrue
	case tristate.False:
		p.InUse = InUseFalse
	default:
		p.InUse = InUseUnknown
	}
	return json.Marshal(p)
}
