package prompt

import (
	"fmt"
	"strconv"
	"time"

	"github.com/manifoldco/promptui"
)

// Input prompts for free text.
func Input(label, defaultValue string) (string, error) {
	p := promptui.Prompt{
		Label:   label,
		Default: defaultValue,
	}
	result, err := p.Run()
	return result, wrapError(err)
}

// ValidatePort accepts 1..65535.
func ValidatePort(input string) error {
	port, err := strconv.Atoi(input)
	if err != nil {
		return fmt.Errorf("must be a valid integer")
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("must be a valid port (1-65535)")
	}
	return nil
}

// ValidateDuration accepts positive time.ParseDuration strings.
func ValidateDuration(input string) error {
	d, err := time.ParseDuration(input)
	if err != nil {
		return fmt.Errorf("must be a duration like 5s or 250ms")
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

// InputPort prompts for a UDP or TCP port.
func InputPort(label string, defaultValue int) (int, error) {
	p := promptui.Prompt{
		Label:    label,
		Default:  strconv.Itoa(defaultValue),
		Validate: ValidatePort,
	}
	result, err := p.Run()
	if err != nil {
		return 0, wrapError(err)
	}
	value, _ := strconv.Atoi(result)
	return value, nil
}

// InputDuration prompts for a timeout or interval.
func InputDuration(label string, defaultValue time.Duration) (time.Duration, error) {
	p := promptui.Prompt{
		Label:    label,
		Default:  defaultValue.String(),
		Validate: ValidateDuration,
	}
	result, err := p.Run()
	if err != nil {
		return 0, wrapError(err)
	}
	d, _ := time.ParseDuration(result)
	return d, nil
}
