package mcpserver

// NoteFormatContract describes how LLM consumers should write notes through
// the carenotes tools.
const NoteFormatContract = `# carenotes Note Format

Notes are Markdown documents owned by the configured MCP user. The server
manages identity and metadata; tools only send the body and labels.

## Body

- Start with a level-one heading. It becomes the note title in the feed.
- The first paragraphs become the excerpt shown in lists, so lead with the
  clinically relevant summary.
- Plain Markdown only. No raw HTML.
- UTF-8, any language.

## Tags

- Pass labels in the ` + "`" + `tags` + "`" + ` argument, not in the body.
- Lowercase kebab-case (` + "`" + `ward-3` + "`" + `, ` + "`" + `follow-up` + "`" + `). A leading ` + "`" + `#` + "`" + ` is stripped.
- At most 64 characters each. Duplicates are dropped.

## Metadata

Never write frontmatter yourself. id, owner, creation time, starred and shared
flags live in a YAML block the server maintains. Use ` + "`" + `star_note` + "`" + ` and
` + "`" + `share_note` + "`" + ` to change flags.

## Attachments

- Upload images and PDFs with ` + "`" + `attach_file` + "`" + `, naming the note they belong to.
- Supported formats: png, jpg, jpeg, gif, webp, svg, pdf.
- Attachments are listed with the note in the feed; do not embed them in the body.

## Example

` + "```" + `markdown
# Ward round 2025-01-20

Bed 4 stable overnight, afebrile. Continue IV antibiotics until cultures return.

## Plan

- Repeat CRP tomorrow
- Physio review
` + "```" + `
`
