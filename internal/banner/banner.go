package banner

import (
	"github.com/charmbracelet/lipgloss"

	"loadtank/internal/tui/styles"
)

const ascii = `
    __                ____              __  
   / /___  ____ _____/ / /_____ _____  / /__
  / / __ \/ __ '/ __  / __/ __ '/ __ \/ //_/
 / / /_/ / /_/ / /_/ / /_/ /_/ / / / / ,<   
/_/\____/\__,_/\__,_/\__/\__,_/_/ /_/_/|_|  `

func GetString() string {
	style := lipgloss.DefaultRenderer().NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)
	return "\n" + style.Render(ascii) + "\n"
}
