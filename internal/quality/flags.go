package quality

// Flag имя флага детектора
type Flag string

const (
	FlagMissing          Flag = "is_missing"
	FlagInvalidPhysical  Flag = "is_invalid_physical"
	FlagInvalidCategory  Flag = "is_invalid_category"
	FlagInvalidMonotonic Flag = "is_invalid_monotonic"
	FlagOutlier          Flag = "is_outlier"
	FlagHigh             Flag = "is_high"
	FlagStuckValue       Flag = "is_stuck_value"
	FlagExcessiveJump    Flag = "is_excessive_jump"
	FlagExcessiveNoise   Flag = "is_excessive_noise"
	FlagGap              Flag = "is_gap"
	FlagSmallDelta       Flag = "is_small_delta"
	FlagDuplicateKey     Flag = "is_duplicate_key"
	FlagError            Flag = "is_error"
)

// AllFlags порядок флагов в отчетах
var AllFlags = []Flag{
	FlagMissing,
	FlagInvalidPhysical,
	FlagHigh,
	FlagOutlier,
	FlagInvalidCategory,
	FlagInvalidMonotonic,
	FlagGap,
	FlagSmallDelta,
	FlagStuckValue,
	FlagExcessiveJump,
	FlagExcessiveNoise,
	FlagDuplicateKey,
	FlagError,
}

// FlagSet независимые флаги одного измерения.
// Флаги не взаимоисключающие; исключительность вводит только Resolve.
type FlagSet struct {
	Missing          bool `json:"is_missing"`
	InvalidPhysical  bool `json:"is_invalid_physical"`
	InvalidCategory  bool `json:"is_invalid_category"`
	InvalidMonotonic bool `json:"is_invalid_monotonic"`
	Outlier          bool `json:"is_outlier"`
	High             bool `json:"is_high"`
	StuckValue       bool `json:"is_stuck_value"`
	ExcessiveJump    bool `json:"is_excessive_jump"`
	ExcessiveNoise   bool `json:"is_excessive_noise"`
	Gap              bool `json:"is_gap"`
	SmallDelta       bool `json:"is_small_delta"`
	DuplicateKey     bool `json:"is_duplicate_key"`
	Error            bool `json:"is_error"`
}

// Has возвращает значение флага по имени
func (f FlagSet) Has(flag Flag) bool {
	switch flag {
	case FlagMissing:
		return f.Missing
	case FlagInvalidPhysical:
		return f.InvalidPhysical
	case FlagInvalidCategory:
		return f.InvalidCategory
	case FlagInvalidMonotonic:
		return f.InvalidMonotonic
	case FlagOutlier:
		return f.Outlier
	case FlagHigh:
		return f.High
	case FlagStuckValue:
		return f.StuckValue
	case FlagExcessiveJump:
		return f.ExcessiveJump
	case FlagExcessiveNoise:
		return f.ExcessiveNoise
	case FlagGap:
		return f.Gap
	case FlagSmallDelta:
		return f.SmallDelta
	case FlagDuplicateKey:
		return f.DuplicateKey
	case FlagError:
		return f.Error
	}
	return false
}
