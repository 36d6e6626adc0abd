package notifier

// fallbackTemplate is the built-in digest layout, used when no custom
// template file is configured. All interpolations are escaped by
// html/template.
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 700px; margin: 0 auto; padding: 20px; background: #f9fafb;">

<div style="text-align: center; margin-bottom: 30px;">
  <h1 style="margin: 0; font-size: 28px; color: #1f2937;">AI Digest</h1>
  <p style="color: #6b7280; margin: 10px 0 0 0;">{{.DateStr}}</p>
</div>

<div style="display: flex; justify-content: center; gap: 15px; margin-bottom: 30px; flex-wrap: wrap;">
  <div style="background: white; padding: 15px 25px; border-radius: 10px; text-align: center; box-shadow: 0 1px 3px rgba(0,0,0,0.1);">
    <div style="font-size: 24px; font-weight: bold; color: #3b82f6;">{{.TotalFetched}}</div>
    <div style="font-size: 12px; color: #6b7280;">fetched</div>
  </div>
  <div style="background: white; padding: 15px 25px; border-radius: 10px; text-align: center; box-shadow: 0 1px 3px rgba(0,0,0,0.1);">
    <div style="font-size: 24px; font-weight: bold; color: #10b981;">{{.TotalAnalyzed}}</div>
    <div style="font-size: 12px; color: #6b7280;">analyzed</div>
  </div>
  <div style="background: white; padding: 15px 25px; border-radius: 10px; text-align: center; box-shadow: 0 1px 3px rgba(0,0,0,0.1);">
    <div style="font-size: 24px; font-weight: bold; color: #8b5cf6;">{{len .TopPicks}}</div>
    <div style="font-size: 12px; color: #6b7280;">top picks</div>
  </div>
</div>

{{if .DailySummary}}
<div style="background: white; padding: 16px 20px; border-radius: 10px; margin-bottom: 24px; color: #374151; box-shadow: 0 1px 3px rgba(0,0,0,0.1);">
  {{.DailySummary}}
</div>
{{end}}

{{if .HotEntities}}
<div style="background: white; padding: 16px 20px; border-radius: 10px; margin-bottom: 24px; box-shadow: 0 1px 3px rgba(0,0,0,0.1);">
  <div style="font-weight: bold; color: #1f2937; margin-bottom: 8px;">Trending entities</div>
  {{range .HotEntities}}
  <span style="display: inline-block; background: #eef2ff; color: #4338ca; padding: 3px 10px; border-radius: 12px; font-size: 12px; margin: 2px;">{{.Name}} ({{.Trend}})</span>
  {{end}}
  <div style="margin-top: 10px;"><img src="cid:trend_chart" alt="trend chart" style="max-width: 100%;"></div>
</div>
{{end}}

<h2 style="color: #1f2937; font-size: 20px;">Top picks</h2>
{{range $i, $item := .TopPicks}}
<div style="margin-bottom: 24px; padding: 20px; background: linear-gradient(135deg, #667eea 0%, #764ba2 100%); border-radius: 12px; color: white;">
  <div style="margin-bottom: 12px;">
    <span style="background: rgba(255,255,255,0.2); padding: 4px 12px; border-radius: 20px; font-size: 12px;">score {{printf "%.1f" $item.Score}}</span>
    {{if $item.EventTime}}<span style="background: rgba(255,255,255,0.2); padding: 4px 12px; border-radius: 20px; font-size: 12px;">{{$item.EventTime}}</span>{{end}}
    {{if gt $item.SourceCount 1}}<span style="background: rgba(255,255,255,0.2); padding: 4px 12px; border-radius: 20px; font-size: 12px;">{{$item.SourceCount}} sources</span>{{end}}
  </div>
  <h3 style="margin: 0 0 10px 0; font-size: 18px;">
    <a href="{{$item.URL}}" style="color: white; text-decoration: none;">{{$item.Title}}</a>
  </h3>
  <p style="margin: 0 0 10px 0; font-size: 14px; opacity: 0.9;">{{$item.Summary}}</p>
  {{if $item.Analysis}}
  <div style="margin-top: 10px; padding: 10px; background: rgba(255,255,255,0.1); border-radius: 8px; font-size: 13px;">{{$item.Analysis}}</div>
  {{end}}
  {{if $item.Reasoning}}
  <div style="margin-top: 8px; font-size: 12px; opacity: 0.8;">Editor's note: {{$item.Reasoning}}</div>
  {{end}}
  <div style="font-size: 12px; opacity: 0.8; margin-top: 8px;">{{$item.Source}}</div>
</div>
{{end}}

{{if .QuickReads}}
<h2 style="color: #1f2937; font-size: 20px;">Quick reads</h2>
<table style="width: 100%; border-collapse: collapse; background: white; border-radius: 10px; overflow: hidden; box-shadow: 0 1px 3px rgba(0,0,0,0.1);">
  {{range .QuickReads}}
  <tr style="border-bottom: 1px solid #e5e7eb;">
    <td style="padding: 12px;">
      <a href="{{.URL}}" style="color: #1f2937; text-decoration: none; font-weight: 500;">{{.Title}}</a>
      <div style="color: #6b7280; font-size: 13px; margin-top: 4px;">{{.Summary}}</div>
    </td>
    <td style="padding: 12px; text-align: center; width: 70px; color: #4b5563; font-weight: bold;">{{printf "%.1f" .Score}}</td>
  </tr>
  {{end}}
</table>
{{end}}

<div style="text-align: center; color: #9ca3af; font-size: 12px; margin-top: 30px;">
  Generated automatically. {{.TotalFiltered}} items filtered out this window.
</div>

</body>
</html>`
