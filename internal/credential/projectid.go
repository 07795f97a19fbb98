package credential

import (
	"math/rand/v2"
	"strings"
)

// project_id 形如 <adj>-<noun>-<5位base36>，风格对齐 Google Cloud
// 自动生成的项目名。只在凭据首次加载时分配一次，此后不再变化。

var projectAdjectives = []string{
	"useful", "bright", "calm", "swift", "quiet", "brave", "sunny", "rapid",
	"gentle", "solid", "vivid", "lucky", "bold", "crisp", "eager", "fancy",
	"happy", "ideal", "jolly", "keen", "lively", "mighty", "noble", "prime",
}

var projectNouns = []string{
	"aurora", "breeze", "canyon", "delta", "ember", "falcon", "garden",
	"harbor", "island", "jungle", "kepler", "lagoon", "meadow", "nebula",
	"orbit", "prairie", "quartz", "river", "summit", "tundra", "umbra",
	"valley", "willow", "zenith",
}

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewProjectID 生成一个新的项目标识。
func NewProjectID() string {
	var b strings.Builder
	b.WriteString(projectAdjectives[rand.IntN(len(projectAdjectives))])
	b.WriteByte('-')
	b.WriteString(projectNouns[rand.IntN(len(projectNouns))])
	b.WriteByte('-')
	for i := 0; i < 5; i++ {
		b.WriteByte(base36Alphabet[rand.IntN(len(base36Alphabet))])
	}
	return b.String()
}
