package core

import (
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/valter-silva-au/agentq/pkg/models"
)

var (
	// bracketMentionPattern matches [@id: text], [@!id: text] and
	// [@a,b: text].
	bracketMentionPattern = regexp.MustCompile(`\[@(!?)([^\s:\]]+):\s*([\s\S]*?)\]`)

	// bareMentionPattern matches "@id: text" and "@id" followed by a dash,
	// including the markdown emphasis forms "**@id**" and "**@id:**".
	bareMentionPattern = regexp.MustCompile(`(?m)(?:^|\s)[*_]{0,2}@([\w-]+)[*_]{0,2}\s*[:\x{2014}\x{2013}-]+[*_]{0,2}\s*`)

	sendFilePattern = regexp.MustCompile(`\[send_file:\s*([^\]]+)\]`)
)

// handoffSeparator divides the shared reply context from the text addressed
// to a specific worker.
const handoffSeparator = "\n\n------\n\nDirected to you:\n"

// MentionScope is what the extractor needs to know about the replying worker.
type MentionScope struct {
	Self     string
	Team     *models.TeamConfig // nil outside a team conversation
	Settings *models.Settings
}

func (s MentionScope) isTeammate(id string) bool {
	if s.Team == nil || id == s.Self {
		return false
	}
	if _, ok := s.Settings.Worker(id); !ok {
		return false
	}
	return s.Team.HasMember(id)
}

func (s MentionScope) isKnown(id string) bool {
	if _, ok := s.Settings.Worker(id); ok {
		return true
	}
	_, ok := s.Settings.Team(id)
	return ok
}

type mentionMatch struct {
	mention models.Mention
	pos     int
}

// ExtractMentions finds the handoff directives in a worker reply, in textual
// order. Bracketed mentions address teammates (or any worker outside a team
// conversation), bracketed mentions with a bang address any worker or team,
// and bare mentions are honored for teammates only. Self mentions and unknown
// ids are dropped, and each target appears at most once: a bracketed mention
// wins over bare ones, and the texts of repeated bare mentions are joined.
func ExtractMentions(reply string, scope MentionScope) []models.Mention {
	if scope.Settings == nil {
		return nil
	}

	var found []mentionMatch
	bracketRanges := bracketMentionPattern.FindAllStringSubmatchIndex(reply, -1)
	for _, loc := range bracketRanges {
		cross := loc[3] > loc[2]
		ids := reply[loc[4]:loc[5]]
		text := strings.TrimSpace(reply[loc[6]:loc[7]])
		for _, id := range strings.Split(ids, ",") {
			id = strings.TrimSpace(id)
			if id == "" || id == scope.Self {
				continue
			}
			switch {
			case cross:
				if !scope.isKnown(id) {
					continue
				}
			case scope.Team != nil:
				if !scope.isTeammate(id) {
					continue
				}
			default:
				if _, ok := scope.Settings.Worker(id); !ok {
					continue
				}
			}
			found = append(found, mentionMatch{
				mention: models.Mention{Target: id, Text: text, CrossTeam: cross},
				pos:     loc[0],
			})
		}
	}

	bracketed := make(map[string]bool, len(found))
	for _, m := range found {
		bracketed[m.mention.Target] = true
	}
	bareIndex := map[string]int{}

	bareLocs := bareMentionPattern.FindAllStringSubmatchIndex(reply, -1)
	var bare [][]int
	for _, loc := range bareLocs {
		if !insideRanges(loc[2], bracketRanges) {
			bare = append(bare, loc)
		}
	}
	for i, loc := range bare {
		id := strings.TrimRight(reply[loc[2]:loc[3]], ",;.")
		if !scope.isTeammate(id) {
			continue
		}
		end := len(reply)
		if i+1 < len(bare) {
			end = bare[i+1][0]
		}
		for _, r := range bracketRanges {
			if r[0] >= loc[1] && r[0] < end {
				end = r[0]
				break
			}
		}
		text := strings.TrimSpace(reply[loc[1]:end])
		if text == "" || bracketed[id] {
			continue
		}
		if at, ok := bareIndex[id]; ok {
			found[at].mention.Text += "\n\n" + text
			continue
		}
		bareIndex[id] = len(found)
		found = append(found, mentionMatch{
			mention: models.Mention{Target: id, Text: text},
			pos:     loc[2],
		})
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].pos < found[j].pos })

	seen := make(map[string]bool, len(found))
	mentions := make([]models.Mention, 0, len(found))
	for _, m := range found {
		if seen[m.mention.Target] {
			continue
		}
		seen[m.mention.Target] = true
		mentions = append(mentions, m.mention)
	}
	return mentions
}

func insideRanges(pos int, ranges [][]int) bool {
	for _, r := range ranges {
		if pos >= r[0] && pos < r[1] {
			return true
		}
	}
	return false
}

// StripMentionTags removes every bracketed mention from text.
func StripMentionTags(text string) string {
	return strings.TrimSpace(bracketMentionPattern.ReplaceAllString(text, ""))
}

// BuildHandoffText composes the message a mentioned worker receives: the
// reply with its mention tags removed, followed by the directed text.
func BuildHandoffText(reply string, mention models.Mention) string {
	shared := StripMentionTags(reply)
	if shared == "" {
		return mention.Text
	}
	return shared + handoffSeparator + mention.Text
}

// CollectSendFiles removes [send_file: path] tags from text and returns the
// referenced paths that exist on disk, deduplicated in order.
func CollectSendFiles(text string) (string, []string) {
	matches := sendFilePattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return text, nil
	}
	var files []string
	seen := map[string]bool{}
	for _, m := range matches {
		path := strings.TrimSpace(m[1])
		if path == "" || seen[path] {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		seen[path] = true
		files = append(files, path)
	}
	return strings.TrimSpace(sendFilePattern.ReplaceAllString(text, "")), files
}
