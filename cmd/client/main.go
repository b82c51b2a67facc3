package main

import (
	"flag"
	"fmt"
	"log"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/campuslink/campuschat/internal/client"
	"github.com/campuslink/campuschat/internal/config"
)

func main() {
	peerID := flag.Uint("private", 0, "open the private room with this user id")
	groupID := flag.Uint("group", 0, "open this group's room")
	flag.Parse()

	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	var roomPath, roomLabel string
	switch {
	case *peerID != 0:
		roomPath = fmt.Sprintf("/ws/private/%d", *peerID)
		roomLabel = fmt.Sprintf("private:%d", *peerID)
	case *groupID != 0:
		roomPath = fmt.Sprintf("/ws/group/%d", *groupID)
		roomLabel = fmt.Sprintf("group:%d", *groupID)
	default:
		log.Fatal("pass -private <user id> or -group <group id>")
	}

	session, err := client.Dial(cfg, roomPath)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer session.Close()

	app := client.NewApp(session, roomLabel, cfg.Username)
	if _, err := tea.NewProgram(app, tea.WithAltScreen()).Run(); err != nil {
		log.Fatalf("client: %v", err)
	}
}
