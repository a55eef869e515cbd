// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"fmt"
	"strings"
)

const (
	// GlobalLocation uses the service's default endpoint.
	GlobalLocation = "global"

	// DefaultServingConfig is the serving config every data store is created with.
	DefaultServingConfig = "default_config"

	defaultCollection = "default_collection"
)

// Resource identifies the data store conversations run against.
type Resource struct {
	Project       string
	Location      string
	DataStore     string
	ServingConfig string
}

// Validate returns a *ConfigurationError naming every unset field.
func (r Resource) Validate() error {
	var missing []string
	if strings.TrimSpace(r.Project) == "" {
		missing = append(missing, "project")
	}
	if strings.TrimSpace(r.Location) == "" {
		missing = append(missing, "location")
	}
	if strings.TrimSpace(r.DataStore) == "" {
		missing = append(missing, "datastore")
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}

// Parent returns the data store resource name sessions are created under.
func (r Resource) Parent() string {
	return fmt.Sprintf("projects/%s/locations/%s/collections/%s/dataStores/%s",
		r.Project, r.Location, defaultCollection, r.DataStore)
}

// ServingConfigName returns the full serving config resource name.
func (r Resource) ServingConfigName() string {
	sc := r.ServingConfig
	if sc == "" {
		sc = DefaultServingConfig
	}
	return r.Parent() + "/servingConfigs/" + sc
}

// Endpoint returns the regional API endpoint, or "" for the global location.
func (r Resource) Endpoint() string {
	if r.Location == "" || r.Location == GlobalLocation {
		return ""
	}
	return r.Location + "-discoveryengine.googleapis.com:443"
}
