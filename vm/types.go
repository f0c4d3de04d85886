package vm

import (
	"fmt"
	"math"
)

// Type is the closed tag identifying a cell's variant.
//
// Every operation that dispatches on Type switches over all of the tags
// below; the default arm of such a switch is a fatal "unimplemented type"
// error rather than a silent fallthrough.
type Type uint8

const (
	NilType Type = iota
	SymbolType
	PairlistType
	ClosureType
	EnvironmentType
	PromiseType
	LanguageType
	CharType
	LogicalType
	IntegerType
	RealType
	ComplexType
	StringType
	ListType
	ExpressionType
	RawType
	ExternalPtrType
	WeakRefType

	numTypes
)

var typeNames = [numTypes]string{
	NilType:         "NULL",
	SymbolType:      "symbol",
	PairlistType:    "pairlist",
	ClosureType:     "closure",
	EnvironmentType: "environment",
	PromiseType:     "promise",
	LanguageType:    "language",
	CharType:        "char",
	LogicalType:     "logical",
	IntegerType:     "integer",
	RealType:        "double",
	ComplexType:     "complex",
	StringType:      "character",
	ListType:        "list",
	ExpressionType:  "expression",
	RawType:         "raw",
	ExternalPtrType: "externalptr",
	WeakRefType:     "weakref",
}

func (t Type) String() string {
	if t < numTypes {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// IsVector reports whether cells of this type carry a length-n element
// buffer.
func (t Type) IsVector() bool {
	switch t {
	case LogicalType, IntegerType, RealType, ComplexType, RawType,
		StringType, ListType, ExpressionType:
		return true
	}
	return false
}

// IsAtomic reports whether t is a vector of fixed-width scalars. These are
// the only types a deferred task may populate.
func (t Type) IsAtomic() bool {
	switch t {
	case LogicalType, IntegerType, RealType, ComplexType, RawType:
		return true
	}
	return false
}

// IsIdentityShared reports whether duplication of t returns the same cell.
func (t Type) IsIdentityShared() bool {
	switch t {
	case NilType, SymbolType, EnvironmentType, ClosureType, PromiseType,
		CharType, ExternalPtrType, WeakRefType:
		return true
	}
	return false
}

// elemSize is the number of payload bytes one element of t accounts for.
func (t Type) elemSize() int {
	switch t {
	case LogicalType, IntegerType:
		return 4
	case RealType:
		return 8
	case ComplexType:
		return 16
	case RawType:
		return 1
	case StringType, ListType, ExpressionType:
		return 8
	}
	return 0
}

// ---------------------------------------------------------------------------
// NA values
// ---------------------------------------------------------------------------

const (
	// NALogical and NAInteger share the most negative int32.
	NALogical int32 = math.MinInt32
	NAInteger int32 = math.MinInt32

	// LogicalTrue and LogicalFalse are the non-NA logical values.
	LogicalTrue  int32 = 1
	LogicalFalse int32 = 0
)

// naRealBits is the NaN whose low word is 1954.
const naRealBits uint64 = 0x7FF00000000007A2

// NAReal is the missing-value marker for double vectors.
var NAReal = math.Float64frombits(naRealBits)

// IsNAReal distinguishes NAReal from other NaNs.
func IsNAReal(f float64) bool {
	return math.IsNaN(f) && uint32(math.Float64bits(f)) == 1954
}

// ---------------------------------------------------------------------------
// Flags
// ---------------------------------------------------------------------------

// Flags are per-cell bits carried alongside the type tag.
type Flags uint8

const (
	// FlagObject is set while the cell carries a class attribute.
	FlagObject Flags = 1 << iota
	// FlagLocked marks an environment whose frame may not gain bindings.
	FlagLocked
	// FlagBindingsLocked marks an environment whose existing bindings are
	// read-only.
	FlagBindingsLocked
	// FlagMissing marks a missing argument placeholder in a pairlist.
	FlagMissing
)
