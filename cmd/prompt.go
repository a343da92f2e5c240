package cmd

import (
	"github.com/charmbracelet/huh"
)

// filterThreshold turns on type-to-filter for lists longer than this.
const filterThreshold = 5

// SelectOption is one choice in a select prompt.
type SelectOption[T any] struct {
	Label string
	Value T
}

// runForm shows fields in a single group with key help at the bottom.
func runForm(fields ...huh.Field) error {
	return huh.NewForm(huh.NewGroup(fields...)).WithShowHelp(true).Run()
}

// promptString asks for a line of text. Enter on an empty input returns
// defaultVal, which is shown as the placeholder.
func promptString(title, description, defaultVal string) (string, error) {
	var value string
	inp := huh.NewInput().Title(title).Value(&value)
	if description != "" {
		inp = inp.Description(description)
	}
	if defaultVal != "" {
		inp = inp.Placeholder(defaultVal)
	}
	if err := runForm(inp); err != nil {
		return "", err
	}
	if value == "" {
		return defaultVal, nil
	}
	return value, nil
}

// promptPassword asks for a secret without echoing it.
func promptPassword(title, description string) (string, error) {
	var value string
	inp := huh.NewInput().
		Title(title).
		EchoMode(huh.EchoModePassword).
		Validate(huh.ValidateNotEmpty()).
		Value(&value)
	if description != "" {
		inp = inp.Description(description)
	}
	if err := runForm(inp); err != nil {
		return "", err
	}
	return value, nil
}

// promptSelect picks one option; defaultIdx is preselected when in range.
func promptSelect[T comparable](title string, options []SelectOption[T], defaultIdx int) (T, error) {
	var value T
	opts := make([]huh.Option[T], len(options))
	for i, o := range options {
		opts[i] = huh.NewOption(o.Label, o.Value)
	}
	if defaultIdx >= 0 && defaultIdx < len(opts) {
		opts[defaultIdx] = opts[defaultIdx].Selected(true)
	}

	sel := huh.NewSelect[T]().Title(title).Options(opts...).Value(&value)
	if len(options) > filterThreshold {
		sel = sel.Filtering(true)
	}
	if err := runForm(sel); err != nil {
		var zero T
		return zero, err
	}
	return value, nil
}

// promptMultiSelect picks any number of options, starting from preselected.
func promptMultiSelect[T comparable](title, description string, options []SelectOption[T], preselected []T) ([]T, error) {
	pre := make(map[T]bool, len(preselected))
	for _, v := range preselected {
		pre[v] = true
	}
	opts := make([]huh.Option[T], len(options))
	for i, o := range options {
		opts[i] = huh.NewOption(o.Label, o.Value).Selected(pre[o.Value])
	}

	var values []T
	ms := huh.NewMultiSelect[T]().Title(title).Options(opts...).Value(&values)
	if description != "" {
		ms = ms.Description(description)
	}
	if len(options) > filterThreshold {
		ms = ms.Filtering(true)
	}
	if err := runForm(ms); err != nil {
		return nil, err
	}
	return values, nil
}

// promptConfirm asks a yes/no question.
func promptConfirm(title string, defaultYes bool) (bool, error) {
	value := defaultYes
	c := huh.NewConfirm().Title(title).Affirmative("Yes").Negative("No").Value(&value)
	if err := runForm(c); err != nil {
		return false, err
	}
	return value, nil
}
