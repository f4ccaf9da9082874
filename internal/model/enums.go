package model

type Channel string

const (
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelTelegram  Channel = "telegram"
	ChannelInstagram Channel = "instagram"
	ChannelFacebook  Channel = "facebook"
	ChannelWebchat   Channel = "webchat"
)

var Channels = []Channel{
	ChannelWhatsApp,
	ChannelTelegram,
	ChannelInstagram,
	ChannelFacebook,
	ChannelWebchat,
}

func (c Channel) Valid() bool {
	for _, ch := range Channels {
		if c == ch {
			return true
		}
	}
	return false
}

type ConnectionStatus string

const (
	ConnectionStatusPending      ConnectionStatus = "pending"
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
)

type PairingOutcome string

const (
	PairingOutcomeConnected PairingOutcome = "connected"
	PairingOutcomeExpired   PairingOutcome = "expired"
	PairingOutcomeAbandoned PairingOutcome = "abandoned"
)
