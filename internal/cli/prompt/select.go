package prompt

import (
	"github.com/manifoldco/promptui"
)

// Option is one entry in a selection list.
type Option struct {
	Label       string
	Value       string
	Description string
}

func templates(withDetails bool) *promptui.SelectTemplates {
	t := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "> {{ .Label | cyan }}",
		Inactive: "  {{ .Label | white }}",
		Selected: "* {{ .Label | green }}",
	}
	if withDetails {
		t.Details = `
{{ "Description:" | faint }}	{{ .Description }}`
	}
	return t
}

// Select returns the Value of the chosen option.
func Select(label string, options []Option) (string, error) {
	p := promptui.Select{
		Label:     label,
		Items:     options,
		Templates: templates(len(options) > 0 && options[0].Description != ""),
		Size:      10,
	}
	i, _, err := p.Run()
	if err != nil {
		return "", wrapError(err)
	}
	return options[i].Value, nil
}

// MultiSelect toggles options until "Done" is picked. Options whose
// Value is in preselected start checked. The result keeps option order.
func MultiSelect(label string, options []Option, preselected []string) ([]string, error) {
	selected := make(map[string]bool, len(preselected))
	for _, v := range preselected {
		selected[v] = true
	}

	for {
		items := make([]string, 0, len(options)+1)
		for _, opt := range options {
			box := "[ ]"
			if selected[opt.Value] {
				box = "[x]"
			}
			items = append(items, box+" "+opt.Label)
		}
		items = append(items, "Done")

		p := promptui.Select{
			Label: label,
			Items: items,
			Size:  len(items),
		}
		i, _, err := p.Run()
		if err != nil {
			return nil, wrapError(err)
		}
		if i == len(options) {
			break
		}
		v := options[i].Value
		selected[v] = !selected[v]
	}

	var result []string
	for _, opt := range options {
		if selected[opt.Value] {
			result = append(result, opt.Value)
		}
	}
	return result, nil
}
