package ews

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailmigrate/pkg/types"
)

func soapBody(inner string) string {
	return `<?xml version="1.0" encoding="utf-8"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
<s:Body xmlns:m="http://schemas.microsoft.com/exchange/services/2006/messages" xmlns:t="http://schemas.microsoft.com/exchange/services/2006/types">` + inner + `</s:Body></s:Envelope>`
}

func testClient(t *testing.T, handler func(op string, req []byte) string) *Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "john@example.org", user)
		require.Equal(t, "secret", pass)

		req, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		op := ""
		for _, name := range []string{"FindFolder", "FindItem", "GetItem", "GetAttachment"} {
			if strings.Contains(string(req), "<m:"+name+" ") || strings.Contains(string(req), "<m:"+name+">") {
				op = name
				break
			}
		}
		fmt.Fprint(w, soapBody(handler(op, req)))
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	acct := &types.Account{
		Scheme:   "ews",
		Host:     u.Host,
		Username: "john@example.org",
		Password: "secret",
	}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	c := NewClient(acct, logger)
	c.endpoint = srv.URL
	return c
}

func TestGetFolders(t *testing.T) {
	c := testClient(t, func(op string, req []byte) string {
		require.Equal(t, "FindFolder", op)
		assert.Contains(t, string(req), `Traversal="Deep"`)
		return `<m:FindFolderResponse>
  <m:ResponseMessages>
    <m:FindFolderResponseMessage ResponseClass="Success">
      <m:RootFolder TotalItemsInView="3" IncludesLastItemInRange="true">
        <t:Folders>
          <t:Folder>
            <t:FolderId Id="f-inbox" ChangeKey="ck1"/>
            <t:ParentFolderId Id="f-root"/>
            <t:DisplayName>Inbox</t:DisplayName>
            <t:FolderClass>IPF.Note</t:FolderClass>
            <t:TotalCount>12</t:TotalCount>
          </t:Folder>
          <t:Folder>
            <t:FolderId Id="f-out" ChangeKey="ck2"/>
            <t:ParentFolderId Id="f-root"/>
            <t:DisplayName>Outbox</t:DisplayName>
            <t:FolderClass>IPF.Note</t:FolderClass>
            <t:TotalCount>0</t:TotalCount>
          </t:Folder>
          <t:CalendarFolder>
            <t:FolderId Id="f-cal" ChangeKey="ck3"/>
            <t:ParentFolderId Id="f-root"/>
            <t:DisplayName>Calendar</t:DisplayName>
            <t:FolderClass>IPF.Appointment</t:FolderClass>
            <t:TotalCount>4</t:TotalCount>
          </t:CalendarFolder>
        </t:Folders>
      </m:RootFolder>
    </m:FindFolderResponseMessage>
  </m:ResponseMessages>
</m:FindFolderResponse>`
	})

	folders, err := c.GetFolders()
	require.NoError(t, err)
	require.Len(t, folders, 2, "Outbox is a system folder")

	assert.Equal(t, "f-inbox", folders[0].ID)
	assert.Equal(t, "Inbox", folders[0].FullName)
	assert.Equal(t, types.TypeMail, folders[0].Type)
	assert.Equal(t, 12, folders[0].Total)
	assert.Equal(t, types.TypeEvent, folders[1].Type)
}

func TestFindItems(t *testing.T) {
	c := testClient(t, func(op string, req []byte) string {
		require.Equal(t, "FindItem", op)
		assert.Contains(t, string(req), `MaxEntriesReturned="100"`)
		return `<m:FindItemResponse>
  <m:ResponseMessages>
    <m:FindItemResponseMessage ResponseClass="Success">
      <m:RootFolder TotalItemsInView="2" IncludesLastItemInRange="true">
        <t:Items>
          <t:Message>
            <t:ItemId Id="id1" ChangeKey="ck1"/>
            <t:ItemClass>IPM.Note</t:ItemClass>
          </t:Message>
          <t:Task>
            <t:ItemId Id="id2" ChangeKey="ck2"/>
            <t:ItemClass>IPM.Task</t:ItemClass>
          </t:Task>
        </t:Items>
      </m:RootFolder>
    </m:FindItemResponseMessage>
  </m:ResponseMessages>
</m:FindItemResponse>`
	})

	items, total, last, err := c.FindItems("f-inbox", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.True(t, last)
	require.Len(t, items, 2)
	assert.Equal(t, "id1!ck1", items[0].ItemID.String())
	assert.Equal(t, "IPM.Task", items[1].ItemClass)
}

func TestGetItemError(t *testing.T) {
	c := testClient(t, func(op string, req []byte) string {
		return `<m:GetItemResponse>
  <m:ResponseMessages>
    <m:GetItemResponseMessage ResponseClass="Error">
      <m:MessageText>The specified object was not found in the store.</m:MessageText>
      <m:ResponseCode>ErrorItemNotFound</m:ResponseCode>
    </m:GetItemResponseMessage>
  </m:ResponseMessages>
</m:GetItemResponse>`
	})

	_, err := c.GetItem(ItemID{ID: "missing"}, "IPM.Note")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ErrorItemNotFound")
}

func TestGetItemTaskShape(t *testing.T) {
	mime := base64.StdEncoding.EncodeToString([]byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"))

	c := testClient(t, func(op string, req []byte) string {
		require.Equal(t, "GetItem", op)
		assert.Contains(t, string(req), "AllProperties")
		return `<m:GetItemResponse>
  <m:ResponseMessages>
    <m:GetItemResponseMessage ResponseClass="Success">
      <m:Items>
        <t:Task>
          <t:ItemId Id="id2" ChangeKey="ck2"/>
          <t:ItemClass>IPM.Task</t:ItemClass>
          <t:Subject>Nowe zadanie</t:Subject>
          <t:MimeContent CharacterSet="UTF-8">` + mime + `</t:MimeContent>
          <t:Importance>High</t:Importance>
          <t:Status>NotStarted</t:Status>
          <t:PercentComplete>10</t:PercentComplete>
          <t:ChangeCount>2</t:ChangeCount>
          <t:DueDate>2024-06-26T22:00:00Z</t:DueDate>
          <t:LastModifiedTime>2024-06-27T13:44:32Z</t:LastModifiedTime>
          <t:Recurrence>
            <t:WeeklyRecurrence>
              <t:Interval>1</t:Interval>
              <t:DaysOfWeek>Thursday</t:DaysOfWeek>
              <t:FirstDayOfWeek>Sunday</t:FirstDayOfWeek>
            </t:WeeklyRecurrence>
            <t:NoEndRecurrence>
              <t:StartDate>2024-06-27Z</t:StartDate>
            </t:NoEndRecurrence>
          </t:Recurrence>
        </t:Task>
      </m:Items>
    </m:GetItemResponseMessage>
  </m:ResponseMessages>
</m:GetItemResponse>`
	})

	item, err := c.GetItem(ItemID{ID: "id2", ChangeKey: "ck2"}, "IPM.Task")
	require.NoError(t, err)
	assert.Equal(t, "Nowe zadanie", item.Subject)
	assert.Equal(t, 2, item.ChangeCount)

	src, err := item.Source()
	require.NoError(t, err)
	assert.Equal(t, "id2!ck2", src.ItemID)
	assert.Equal(t, "High", src.Importance)
	require.NotNil(t, src.Recurrence)
	assert.Equal(t, "Weekly", src.Recurrence.Pattern)
	assert.Equal(t, []string{"Thursday"}, src.Recurrence.DaysOfWeek)
	assert.Equal(t, "Sunday", src.Recurrence.FirstDayOfWeek)
	assert.Zero(t, src.Recurrence.Count)
}

func TestGetAttachment(t *testing.T) {
	content := base64.StdEncoding.EncodeToString([]byte("attachment body"))

	c := testClient(t, func(op string, req []byte) string {
		require.Equal(t, "GetAttachment", op)
		return `<m:GetAttachmentResponse>
  <m:ResponseMessages>
    <m:GetAttachmentResponseMessage ResponseClass="Success">
      <m:Attachments>
        <t:FileAttachment>
          <t:Name>notes.txt</t:Name>
          <t:ContentType>text/plain</t:ContentType>
          <t:Content>` + content + `</t:Content>
        </t:FileAttachment>
      </m:Attachments>
    </m:GetAttachmentResponseMessage>
  </m:ResponseMessages>
</m:GetAttachmentResponse>`
	})

	name, ctype, data, err := c.GetAttachment(ItemID{ID: "att1"})
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", name)
	assert.Equal(t, "text/plain", ctype)
	assert.Equal(t, "attachment body", string(data))
}

func TestParseTime(t *testing.T) {
	tests := map[string]time.Time{
		"2024-06-27T13:44:32Z":     time.Date(2024, 6, 27, 13, 44, 32, 0, time.UTC),
		"2024-07-15T11:17:39,701Z": time.Date(2024, 7, 15, 11, 17, 39, 701000000, time.UTC),
		"2024-06-27Z":              time.Date(2024, 6, 27, 0, 0, 0, 0, time.UTC),
		"":                         {},
		"not-a-date":               {},
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseTime(in).UTC(), in)
	}
}

func TestRequestEnvelope(t *testing.T) {
	env := envelope{
		XmlnsSoap: nsSoap,
		XmlnsM:    nsMessages,
		XmlnsT:    nsTypes,
		Header:    header{Version: versionHeader{Version: serverVersion}},
		Body: body{Op: &findFolderRequest{
			Traversal:   "Deep",
			FolderShape: folderShape{BaseShape: "AllProperties"},
			ParentIDs:   parentRoot{Distinguished: distinguishedFolderID{ID: "msgfolderroot"}},
		}},
	}
	out, err := xml.Marshal(env)
	require.NoError(t, err)

	s := string(out)
	assert.Contains(t, s, `<soap:Envelope`)
	assert.Contains(t, s, `xmlns:t="`+nsTypes+`"`)
	assert.Contains(t, s, `<m:FindFolder Traversal="Deep">`)
	assert.Contains(t, s, `<t:DistinguishedFolderId Id="msgfolderroot">`)
}
