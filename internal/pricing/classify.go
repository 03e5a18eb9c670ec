// Package pricing derives token USD prices from pool exchange rates and decides which derived
// prices are trusted.
package pricing

import (
	"errors"
	"fmt"
)

// ErrNoAnchorTokenFound is returned when an anchor is requested from a classification without one.
var ErrNoAnchorTokenFound = errors.New("no anchor token found")

// Role is the pricing role of a single token.
type Role int

const (
	RoleNone Role = iota
	RoleStable
	RoleWrappedNative
	RoleNative
)

// Roles maps token ids to their pricing role.
type Roles struct {
	byToken map[string]Role
}

// NewRoles builds a role table from token ids. A token listed under several roles resolves to
// the first of stable, wrapped-native, native.
func NewRoles(stable, wrappedNative, native []string) Roles {
	r := Roles{byToken: make(map[string]Role, len(stable)+len(wrappedNative)+len(native))}
	r.add(native, RoleNative)
	r.add(wrappedNative, RoleWrappedNative)
	r.add(stable, RoleStable)
	return r
}

func (r Roles) add(ids []string, role Role) {
	for _, id := range ids {
		r.byToken[id] = role
	}
}

// Of returns the role of tokenID.
func (r Roles) Of(tokenID string) Role {
	return r.byToken[tokenID]
}

// Kind is the pricing strategy selected for a pool.
type Kind int

const (
	Unclassified Kind = iota
	VariableWithStable
	Stable
	WrappedNative
	Native
)

func (k Kind) String() string {
	switch k {
	case VariableWithStable:
		return "variable_with_stable"
	case Stable:
		return "stable"
	case WrappedNative:
		return "wrapped_native"
	case Native:
		return "native"
	default:
		return "unclassified"
	}
}

// Classification is the tagged result of classifying a pool's token pair.
type Classification struct {
	Kind Kind
	// anchor is the index of the token whose role selected Kind, or -1.
	anchor int
}

// Classify evaluates the pool's token roles in priority order.
func Classify(roles Roles, token0ID, token1ID string) Classification {
	role0, role1 := roles.Of(token0ID), roles.Of(token1ID)

	switch {
	case role0 == RoleStable && role1 == RoleStable:
		return Classification{Kind: Stable, anchor: -1}
	case role0 == RoleStable:
		return Classification{Kind: VariableWithStable, anchor: 0}
	case role1 == RoleStable:
		return Classification{Kind: VariableWithStable, anchor: 1}
	}

	native0, native1 := isNativeAnchor(role0), isNativeAnchor(role1)
	switch {
	case native0 && !native1:
		return Classification{Kind: nativeKind(role0), anchor: 0}
	case native1 && !native0:
		return Classification{Kind: nativeKind(role1), anchor: 1}
	}
	return Classification{Kind: Unclassified, anchor: -1}
}

// Anchor returns the index of the token that anchors the price.
func (c Classification) Anchor() (int, error) {
	switch c.Kind {
	case VariableWithStable, WrappedNative, Native:
		if c.anchor == 0 || c.anchor == 1 {
			return c.anchor, nil
		}
	}
	return -1, fmt.Errorf("%s pool: %w", c.Kind, ErrNoAnchorTokenFound)
}

func isNativeAnchor(role Role) bool {
	return role == RoleWrappedNative || role == RoleNative
}

func nativeKind(role Role) Kind {
	if role == RoleNative {
		return Native
	}
	return WrappedNative
}
