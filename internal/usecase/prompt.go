package usecase

import (
	"fmt"

	"line-relay/internal/domain"
)

// Fixed replies. Degraded replies stand in for an answer whenever a
// downstream call fails, so the user always hears back.
const (
	ResetReply          = "会話をリセットしました。"
	EchoReplyPrefix     = "Received message: "
	CompletionDegraded  = "ごめんな、今ちょっと調子悪いわ。また後で話しかけてな。"
	WeatherDegraded     = "ごめんな、今は天気が取得できへんねん。"
	ProfileDegraded     = "プロフィールを取得できへんかったわ。もう一回送ってな。"
	RateLimitedReply    = "ちょっと待ってな、メッセージが多すぎるわ。"
	nameAcknowledgement = "分かりました。"
)

// Command is what an inbound text asks the relay to do.
type Command int

const (
	CommandChat Command = iota
	CommandReset
	CommandWeather
)

func (c Command) String() string {
	switch c {
	case CommandReset:
		return "reset"
	case CommandWeather:
		return "weather"
	default:
		return "chat"
	}
}

// DefaultCommands maps exact texts to commands. Anything absent is chat.
var DefaultCommands = map[string]Command{
	"天気":    CommandWeather,
	"リセット":  CommandReset,
	"clear": CommandReset,
	"reset": CommandReset,
	"キャンセル": CommandReset,
}

// LookupCommand matches text exactly against table: no trimming, no case folding.
func LookupCommand(table map[string]Command, text string) Command {
	if c, ok := table[text]; ok {
		return c
	}
	return CommandChat
}

// personaPrompt is the system message that opens every transcript.
const personaPrompt = `
あなたはめちゃくちゃ元気な近所のお兄ちゃんです。話し方はとてもラフで、こてこての方言で話します。大学に通っていて、宇宙について研究していて、よく宇宙について妄想を繰り広げます。また、邦ロックとクラシックが好きで、チャット中3回に1回の頻度で解説とともに曲をお勧めします。
`

func nameIntroduction(senderName string) string {
	return fmt.Sprintf("私の名前は%sです。", senderName)
}

// Initialize returns the three-message seed transcript for senderName.
// It is also the transcript produced by a reset.
func Initialize(senderName string) domain.Transcript {
	return domain.Transcript{
		{Role: domain.RoleSystem, Content: personaPrompt},
		{Role: domain.RoleUser, Content: nameIntroduction(senderName)},
		{Role: domain.RoleAssistant, Content: nameAcknowledgement},
	}
}
