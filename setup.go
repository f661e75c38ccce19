package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-resty/resty/v2"
	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/raine/image-poet/config"
)

// envOrder is the order keys are written to config.env.
var envOrder = []string{"BOT_TOKEN", "ADMIN_TELEGRAM_ID", "ZHIPU_API_KEY", "GEMINI_API_KEY"}

// isInteractiveTerminal reports whether both stdin and stdout are TTYs.
func isInteractiveTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// runSetupWizard asks for the missing keys, writes them to config.env and
// exports them to the current process. Returns false if the user aborted.
func runSetupWizard(missing []string) bool {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("99")).
		MarginBottom(1)

	fmt.Println()
	fmt.Println(titleStyle.Render("🖋  Image Poet - First-time Setup"))
	fmt.Println()

	values := make(map[string]*string, len(missing))
	var groups []*huh.Group
	for _, key := range missing {
		v := new(string)
		values[key] = v
		if input := setupInput(key, v); input != nil {
			groups = append(groups, huh.NewGroup(input))
		}
	}

	err := huh.NewForm(groups...).WithTheme(huh.ThemeBase16()).Run()
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("\nSetup cancelled.")
			return false
		}
		fmt.Printf("\nError: %v\n", err)
		return false
	}

	env := make(map[string]string, len(values))
	for k, v := range values {
		env[k] = *v
	}
	configPath, err := writeEnvFile(env)
	if err != nil {
		fmt.Printf("\nError saving configuration: %v\n", err)
		waitOnWindows()
		return false
	}
	for k, v := range env {
		os.Setenv(k, v)
	}

	successStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	pathStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	fmt.Println()
	fmt.Println(successStyle.Render("✓ Configuration saved"))
	fmt.Println(pathStyle.Render("  " + configPath))
	fmt.Println()
	return true
}

func setupInput(key string, value *string) *huh.Input {
	input := huh.NewInput().Value(value)
	switch key {
	case "BOT_TOKEN":
		return input.
			Title("Telegram Bot Token").
			Description("Message @BotFather on Telegram → /newbot → copy token").
			Validate(required("token", validateTelegramToken))
	case "ADMIN_TELEGRAM_ID":
		return input.
			Title("Your Telegram User ID").
			Description("Message @userinfobot to get your ID: https://t.me/userinfobot").
			Validate(required("user ID", func(s string) error {
				if _, err := strconv.ParseInt(s, 10, 64); err != nil {
					return errors.New("must be a number")
				}
				return nil
			}))
	case "ZHIPU_API_KEY":
		return input.
			Title("Zhipu API Key").
			Description("Get yours at https://open.bigmodel.cn/usercenter/apikeys").
			EchoMode(huh.EchoModePassword).
			Validate(required("API key", nil))
	case "GEMINI_API_KEY":
		return input.
			Title("Gemini API Key").
			Description("Get yours at https://aistudio.google.com/apikey").
			EchoMode(huh.EchoModePassword).
			Validate(required("API key", validateGeminiKey))
	}
	return nil
}

func required(what string, next func(string) error) func(string) error {
	return func(s string) error {
		if s == "" {
			return fmt.Errorf("%s is required", what)
		}
		if next != nil {
			return next(s)
		}
		return nil
	}
}

var setupClient = resty.New().SetTimeout(10 * time.Second)

// validateTelegramToken calls getMe with the token.
func validateTelegramToken(token string) error {
	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description,omitempty"`
	}
	_, err := setupClient.R().
		SetContext(context.Background()).
		SetResult(&result).
		SetError(&result).
		Get(fmt.Sprintf("https://api.telegram.org/bot%s/getMe", token))
	if err != nil {
		return errors.New("connection failed - check your internet")
	}
	if !result.OK {
		if result.Description != "" {
			return errors.New(result.Description)
		}
		return errors.New("token rejected by Telegram")
	}
	return nil
}

// validateGeminiKey lists models, which is cheap and needs a valid key.
func validateGeminiKey(key string) error {
	var result struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	res, err := setupClient.R().
		SetQueryParam("key", key).
		SetError(&result).
		Get("https://generativelanguage.googleapis.com/v1beta/models")
	if err != nil {
		return errors.New("connection failed - check your internet")
	}
	switch code := res.StatusCode(); {
	case code == 400 || code == 401 || code == 403:
		if result.Error.Message != "" {
			return errors.New(result.Error.Message)
		}
		return fmt.Errorf("API key rejected (HTTP %d)", code)
	case code != 200:
		return fmt.Errorf("unexpected response (HTTP %d)", code)
	}
	return nil
}

// writeEnvFile merges env into config.env, keeping keys already there.
// The file holds secrets so it is written 0600.
func writeEnvFile(env map[string]string) (string, error) {
	configPath, err := config.EnvFilePath()
	if err != nil {
		return "", err
	}

	existing, err := godotenv.Read(configPath)
	if err != nil {
		existing = map[string]string{}
	}
	for _, key := range envOrder {
		if v, ok := env[key]; ok && v != "" {
			existing[key] = v
		}
	}

	content, err := godotenv.Marshal(existing)
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(content+"\n"), 0600); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return configPath, nil
}
