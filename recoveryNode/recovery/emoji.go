package recovery

import (
	"math/rand/v2"
	"strings"

	"github.com/socialrecovery/recovery-node/recoveryNode/constant"
)

var emojiAlphabet = []string{
	"🐶", "🐱", "🦊", "🐻", "🐼", "🐨", "🐯", "🦁", "🐮", "🐷", "🐸", "🐵", "🐔", "🐧", "🐦",
	"🦄", "🐝", "🐢", "🐙", "🦀", "🐬", "🐳", "🦋", "🌵", "🌻", "🍀", "🍄", "🌙", "⭐", "🔥",
	"🌈", "🌊", "🍎", "🍋", "🍇", "🍉", "🍒", "🥑", "🥕", "🌽", "🍩", "🎈", "🎁", "🔑", "⚓",
	"🚀", "🚲", "⛵", "🎸", "🎲", "🧩", "💎", "🔔", "📌", "🧲", "⏰", "🏠", "🌍", "🎯", "🪁",
}

// newEmojiSet returns a visual fingerprint of RecoveryEmojiCount symbols that lets
// guardians recognise a request at a glance.
func newEmojiSet() string {
	var b strings.Builder
	for range constant.RecoveryEmojiCount {
		b.WriteString(emojiAlphabet[rand.IntN(len(emojiAlphabet))])
	}
	return b.String()
}
