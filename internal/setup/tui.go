package setup

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/ethereum/go-ethereum/common"
	"github.com/vadiminshakov/pandamarket/config"
	"github.com/vadiminshakov/pandamarket/internal/domain"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is where the wizard writes the generated configuration.
const DefaultConfigFile = "config.gen.yaml"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

func header(step string) {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("PANDAMARKET CONFIG WIZARD"))
	fmt.Println(stepStyle.Render(step))
}

// RunTUI launches the terminal configuration wizard and returns the path of the written config.
func RunTUI() (string, error) {
	var (
		operator        string
		marketAddress   string
		feePercent      = "5"
		httpAddr        = config.DefaultHTTPAddr
		walDir          = config.DefaultWALDir
		addCollection   bool
		collection      string
		collectionName  = "PandaNft"
		royaltyReceiver string
		royaltyBps      = "0"
		confirm         bool
	)

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("PANDAMARKET CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Let's get your marketplace ledger running.\n"))

	fmt.Println(stepStyle.Render("STEP 1: ACCOUNTS"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Operator account").
				Description("Receives platform fees, hex address").
				Value(&operator).
				Validate(validateAddress),
			huh.NewInput().
				Title("Marketplace account").
				Description("Address owners approve for transfers, empty to use the operator").
				Value(&marketAddress).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return nil
					}
					return validateAddress(s)
				}),
		),
	).Run()
	if err != nil {
		return "", err
	}

	header("STEP 2: PLATFORM FEE")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Platform fee %").
				Description("Operator cut of each sale (0-100, e.g. 2.5)").
				Value(&feePercent).
				Validate(func(s string) error {
					_, err := domain.FeeRateFromPercent(s)
					return err
				}),
		),
	).Run()
	if err != nil {
		return "", err
	}

	header("STEP 3: STORAGE & HTTP")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("HTTP listen address").
				Value(&httpAddr),
			huh.NewInput().
				Title("Journal directory").
				Value(&walDir),
		),
	).Run()
	if err != nil {
		return "", err
	}

	header("STEP 4: ROYALTIES")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Configure a collection royalty now?").
				Value(&addCollection),
		),
	).Run()
	if err != nil {
		return "", err
	}
	if addCollection {
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Collection contract").
					Value(&collection).
					Validate(validateAddress),
				huh.NewInput().
					Title("Collection name").
					Value(&collectionName),
				huh.NewInput().
					Title("Royalty receiver").
					Value(&royaltyReceiver).
					Validate(validateAddress),
				huh.NewInput().
					Title("Royalty bps").
					Description("Creator cut in basis points (0-10000)").
					Value(&royaltyBps),
			),
		).Run()
		if err != nil {
			return "", err
		}
	}

	header("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Operator: %s\nFee: %s%%\nHTTP: %s\nJournal: %s\n",
		operator, feePercent, httpAddr, walDir,
	)
	if addCollection {
		summary += fmt.Sprintf("Royalty: %s %s bps -> %s\n", collectionName, royaltyBps, royaltyReceiver)
	}
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return "", err
	}
	if !confirm {
		return "", fmt.Errorf("setup cancelled by user")
	}

	cfgTmp := config.ConfigTmp{
		Operator:              operator,
		MarketAddress:         strings.TrimSpace(marketAddress),
		PlatformFeePercentStr: feePercent,
		HTTPAddr:              httpAddr,
		WALDir:                walDir,
	}
	if addCollection {
		cfgTmp.Collections = []config.CollectionTmp{{
			Address:         collection,
			Name:            collectionName,
			RoyaltyReceiver: royaltyReceiver,
			RoyaltyBpsStr:   royaltyBps,
		}}
	}

	if err := writeConfig(DefaultConfigFile, cfgTmp); err != nil {
		return "", err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting marketplace...", DefaultConfigFile)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return DefaultConfigFile, nil
}

// writeConfig validates cfgTmp and writes it as YAML.
func writeConfig(path string, cfgTmp config.ConfigTmp) error {
	if _, err := cfgTmp.Build(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	data, err := yaml.Marshal(cfgTmp)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

func validateAddress(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if !common.IsHexAddress(s) {
		return fmt.Errorf("invalid format: must be a 0x-prefixed hex address")
	}
	return nil
}
