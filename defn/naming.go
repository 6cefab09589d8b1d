/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package defn

import (
	"errors"
	"strings"
)

// NameSeparator separates the components of the string form of an ApplicationNamingInfo.
const NameSeparator = "/"

// ErrInvalidName is returned for a name whose components cannot be carried in its string form.
var ErrInvalidName = errors.New("name component contains " + NameSeparator)

// ApplicationNamingInfo is the four-part name of an application process entity.
type ApplicationNamingInfo struct {
	ApplicationName     string
	ApplicationInstance string
	EntityName          string
	EntityInstance      string
}

// MakeApplicationNamingInfo constructs a naming info with only the application name set.
func MakeApplicationNamingInfo(applicationName string) ApplicationNamingInfo {
	return ApplicationNamingInfo{ApplicationName: applicationName}
}

// ParseApplicationNamingInfo parses the form produced by ApplicationNamingInfo.String.
func ParseApplicationNamingInfo(str string) ApplicationNamingInfo {
	parts := strings.SplitN(str, NameSeparator, 4)
	var n ApplicationNamingInfo
	fields := []*string{&n.ApplicationName, &n.ApplicationInstance, &n.EntityName, &n.EntityInstance}
	for i, part := range parts {
		*fields[i] = part
	}
	return n
}

func (n ApplicationNamingInfo) components() [4]string {
	return [4]string{n.ApplicationName, n.ApplicationInstance, n.EntityName, n.EntityInstance}
}

// String returns "ap/ai/ae/ei" with trailing empty components elided.
func (n ApplicationNamingInfo) String() string {
	c := n.components()
	last := len(c) - 1
	for last > 0 && c[last] == "" {
		last--
	}
	return strings.Join(c[:last+1], NameSeparator)
}

// Validate checks that the name survives ParseApplicationNamingInfo(n.String()).
func (n ApplicationNamingInfo) Validate() error {
	for _, component := range n.components() {
		if strings.Contains(component, NameSeparator) {
			return ErrInvalidName
		}
	}
	return nil
}

// IsEmpty returns whether no component is set.
func (n ApplicationNamingInfo) IsEmpty() bool {
	return n == ApplicationNamingInfo{}
}

// Equal is exact, case-sensitive equality of all four components.
func (n ApplicationNamingInfo) Equal(other ApplicationNamingInfo) bool {
	return n == other
}

// Matches reports whether other matches n used as a pattern: an empty component of n matches anything,
// non-empty components are compared case-insensitively.
func (n ApplicationNamingInfo) Matches(other ApplicationNamingInfo) bool {
	pattern := n.components()
	candidate := other.components()
	for i := range pattern {
		if pattern[i] != "" && !strings.EqualFold(pattern[i], candidate[i]) {
			return false
		}
	}
	return true
}
