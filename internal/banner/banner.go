package banner

import (
	"feedload/internal/tui/styles"

	"github.com/charmbracelet/lipgloss"
)

func GetString() string {
	renderer := lipgloss.DefaultRenderer()

	style := renderer.NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)

	ascii := `
  ____            ____                __
 / __/__ ___ ___/ / /  ___  ___ ____/ /
/ _// -_) -_) _  / /__/ _ \/ _ '/ _  / 
/_/ \__/\__/\_,_/____/\___/\_,_/\_,_/  `

	return "\n" + style.Render(ascii) + "\n" + styles.Subtle.Render("  feed service load driver") + "\n"
}
