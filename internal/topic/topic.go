// Package topic derives broker topic names from workflow and step names.
package topic

import (
	"fmt"
	"regexp"
)

const prefix = "disturb"

var validName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Manager returns the topic consumed by the manager of workflow.
func Manager(workflow string) string {
	return prefix + "-" + workflow + "-manager"
}

// Step returns the topic consumed by the workers of stepCode in workflow.
func Step(workflow, stepCode string) string {
	return prefix + "-" + workflow + "-" + stepCode
}

// ValidateName checks that name can be embedded in a topic name without
// colliding with the separator or the reserved "manager" suffix.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("topic: empty name")
	}
	if !validName.MatchString(name) {
		return fmt.Errorf("topic: invalid name %q, only letters, digits and underscores are allowed", name)
	}
	return nil
}

// ValidateStep checks a step code in addition to ValidateName: a step named
// "manager" would share the manager topic.
func ValidateStep(stepCode string) error {
	if err := ValidateName(stepCode); err != nil {
		return err
	}
	if stepCode == "manager" {
		return fmt.Errorf("topic: step code %q is reserved", stepCode)
	}
	return nil
}
