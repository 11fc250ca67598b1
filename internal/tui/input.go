package tui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// editMode что сейчас редактирует пользователь
type editMode int

const (
	editNone editMode = iota
	editSearch
	editComposer
	editForm
)

// field однострочное поле ввода
type field struct {
	label  string
	value  string
	secret bool
}

// form набор полей с фокусом
type form struct {
	fields []field
	focus  int
}

func newForm(labels ...string) *form {
	f := &form{}
	for _, label := range labels {
		f.fields = append(f.fields, field{label: label, secret: strings.EqualFold(label, "password")})
	}
	return f
}

func (f *form) value(i int) string {
	return f.fields[i].value
}

func (f *form) last() bool {
	return f.focus == len(f.fields)-1
}

func (f *form) next() {
	f.focus = (f.focus + 1) % len(f.fields)
}

func (f *form) edit(msg tea.KeyMsg) {
	f.fields[f.focus].value = editLine(f.fields[f.focus].value, msg)
}

func (f *form) render() string {
	var b strings.Builder
	for i, fl := range f.fields {
		value := fl.value
		if fl.secret {
			value = strings.Repeat("*", len([]rune(value)))
		}
		line := fl.label + ": " + value
		if i == f.focus {
			line = selectedStyle.Render(line + "_")
		}
		b.WriteString(line + "\n")
	}
	return inputStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// editLine применяет нажатие к строке ввода
func editLine(value string, msg tea.KeyMsg) string {
	switch msg.Type {
	case tea.KeyBackspace, tea.KeyDelete:
		runes := []rune(value)
		if len(runes) == 0 {
			return value
		}
		return string(runes[:len(runes)-1])
	case tea.KeySpace:
		return value + " "
	case tea.KeyRunes:
		return value + string(msg.Runes)
	}
	return value
}
