// Copyright 2021 Northern.tech AS
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

package model

import (
	"strings"
)

// BundleKind is the packaging format of a plugin artifact.
type BundleKind string

const (
	BundleDAR    BundleKind = "DAR"
	BundleVMOAPP BundleKind = "VMOAPP"
)

var bundleSuffixes = map[BundleKind]string{
	BundleDAR:    ".dar",
	BundleVMOAPP: ".vmoapp",
}

// Suffix returns the file extension of the bundle, dot included.
func (k BundleKind) Suffix() string {
	return bundleSuffixes[k]
}

func (k BundleKind) String() string {
	return string(k)
}

// ParseBundleKind accepts the symbolic name in any case.
func ParseBundleKind(s string) (BundleKind, error) {
	k := BundleKind(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := bundleSuffixes[k]; !ok {
		return "", &ConfigurationError{
			Field: "bundle",
			Msg:   "unknown value '" + s + "', authorized values are [DAR VMOAPP]",
		}
	}
	return k, nil
}

// DeleteStrategy tells the server what to do with the elements of a
// package that other packages also reference.
type DeleteStrategy string

const (
	DeletePackage              DeleteStrategy = "DELETE_PACKAGE"
	DeletePackageWithContent   DeleteStrategy = "DELETE_PACKAGE_WITH_CONTENT"
	DeletePackageKeepingShared DeleteStrategy = "DELETE_PACKAGE_KEEPING_SHARED"
)

const DefaultDeleteStrategy = DeletePackageKeepingShared

var deleteStrategyLabels = map[DeleteStrategy]string{
	DeletePackage:              "deletePackage",
	DeletePackageWithContent:   "deletePackageWithContent",
	DeletePackageKeepingShared: "deletePackageKeepingShared",
}

// Label is the value sent in the "option" query parameter.
func (s DeleteStrategy) Label() string {
	return deleteStrategyLabels[s]
}

func (s DeleteStrategy) String() string {
	return string(s)
}

// ParseDeleteStrategy accepts either the strategy name or its label,
// case-insensitively.
func ParseDeleteStrategy(s string) (DeleteStrategy, error) {
	v := strings.TrimSpace(s)
	for strategy, label := range deleteStrategyLabels {
		if strings.EqualFold(v, string(strategy)) || strings.EqualFold(v, label) {
			return strategy, nil
		}
	}
	return "", &ConfigurationError{
		Field: "delete-strategy",
		Msg: "unknown value '" + s + "', authorized values are " +
			"[deletePackage deletePackageWithContent deletePackageKeepingShared]",
	}
}
