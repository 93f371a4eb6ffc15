package ews

import (
	"encoding/xml"
	"strings"
)

// Namespace constants for the SOAP envelope.
const (
	nsSoap     = "http://schemas.xmlsoap.org/soap/envelope/"
	nsMessages = "http://schemas.microsoft.com/exchange/services/2006/messages"
	nsTypes    = "http://schemas.microsoft.com/exchange/services/2006/types"
)

// Request envelope. Element names carry literal prefixes; encoding/xml
// emits them verbatim and the xmlns declarations on the envelope bind
// them.
type envelope struct {
	XMLName   xml.Name `xml:"soap:Envelope"`
	XmlnsSoap string   `xml:"xmlns:soap,attr"`
	XmlnsM    string   `xml:"xmlns:m,attr"`
	XmlnsT    string   `xml:"xmlns:t,attr"`
	Header    header   `xml:"soap:Header"`
	Body      body     `xml:"soap:Body"`
}

type header struct {
	Version versionHeader
}

type versionHeader struct {
	XMLName xml.Name `xml:"t:RequestServerVersion"`
	Version string   `xml:"Version,attr"`
}

type body struct {
	Op interface{}
}

// ItemID identifies an EWS item.
type ItemID struct {
	ID        string `xml:"Id,attr"`
	ChangeKey string `xml:"ChangeKey,attr,omitempty"`
}

// String joins the id parts into the form recorded in X-MS-ID.
func (id ItemID) String() string {
	if id.ChangeKey == "" {
		return id.ID
	}
	return id.ID + "!" + id.ChangeKey
}

// ParseItemID splits an X-MS-ID style identifier back into its parts.
func ParseItemID(s string) ItemID {
	id, key, _ := strings.Cut(s, "!")
	return ItemID{ID: id, ChangeKey: key}
}

// FolderID identifies an EWS folder.
type FolderID struct {
	ID        string `xml:"Id,attr"`
	ChangeKey string `xml:"ChangeKey,attr,omitempty"`
}

// --- FindFolder ---

type findFolderRequest struct {
	XMLName     xml.Name    `xml:"m:FindFolder"`
	Traversal   string      `xml:"Traversal,attr"`
	FolderShape folderShape `xml:"m:FolderShape"`
	ParentIDs   parentRoot  `xml:"m:ParentFolderIds"`
}

type folderShape struct {
	BaseShape string `xml:"t:BaseShape"`
}

type parentRoot struct {
	Distinguished distinguishedFolderID `xml:"t:DistinguishedFolderId"`
}

type distinguishedFolderID struct {
	ID      string   `xml:"Id,attr"`
	Mailbox *mailbox `xml:"t:Mailbox,omitempty"`
}

type mailbox struct {
	EmailAddress string `xml:"t:EmailAddress"`
}

// FindFolderResponse is the folder hierarchy listing result.
type FindFolderResponse struct {
	XMLName  xml.Name          `xml:"FindFolderResponse"`
	Messages []responseMessage `xml:"ResponseMessages>FindFolderResponseMessage"`
}

// Folder is a source folder as returned by FindFolder.
type Folder struct {
	FolderID    FolderID `xml:"FolderId"`
	ParentID    FolderID `xml:"ParentFolderId"`
	DisplayName string   `xml:"DisplayName"`
	FolderClass string   `xml:"FolderClass"`
	TotalCount  int      `xml:"TotalCount"`
}

// --- FindItem ---

type findItemRequest struct {
	XMLName   xml.Name      `xml:"m:FindItem"`
	Traversal string        `xml:"Traversal,attr"`
	ItemShape itemShape     `xml:"m:ItemShape"`
	Paging    *indexedPage  `xml:"m:IndexedPageItemView,omitempty"`
	ParentIDs parentFolders `xml:"m:ParentFolderIds"`
}

type itemShape struct {
	BaseShape          string       `xml:"t:BaseShape"`
	IncludeMimeContent bool         `xml:"t:IncludeMimeContent,omitempty"`
	AdditionalProps    *fieldURISet `xml:"t:AdditionalProperties,omitempty"`
}

type fieldURISet struct {
	FieldURIs []fieldURI `xml:"t:FieldURI"`
}

type fieldURI struct {
	URI string `xml:"FieldURI,attr"`
}

type indexedPage struct {
	MaxEntries int    `xml:"MaxEntriesReturned,attr"`
	Offset     int    `xml:"Offset,attr"`
	BasePoint  string `xml:"BasePoint,attr"`
}

type parentFolders struct {
	FolderID FolderID `xml:"t:FolderId"`
}

// FindItemResponse is the paged item listing result.
type FindItemResponse struct {
	XMLName  xml.Name          `xml:"FindItemResponse"`
	Messages []responseMessage `xml:"ResponseMessages>FindItemResponseMessage"`
}

// --- GetItem ---

type getItemRequest struct {
	XMLName   xml.Name  `xml:"m:GetItem"`
	ItemShape itemShape `xml:"m:ItemShape"`
	ItemIDs   itemIDs   `xml:"m:ItemIds"`
}

type itemIDs struct {
	ItemID reqItemID `xml:"t:ItemId"`
}

type reqItemID struct {
	ID        string `xml:"Id,attr"`
	ChangeKey string `xml:"ChangeKey,attr,omitempty"`
}

// GetItemResponse is the single item fetch result.
type GetItemResponse struct {
	XMLName  xml.Name          `xml:"GetItemResponse"`
	Messages []responseMessage `xml:"ResponseMessages>GetItemResponseMessage"`
}

// --- GetAttachment ---

type getAttachmentRequest struct {
	XMLName xml.Name        `xml:"m:GetAttachment"`
	Shape   attachmentShape `xml:"m:AttachmentShape"`
	IDs     attachmentIDs   `xml:"m:AttachmentIds"`
}

type attachmentShape struct {
	IncludeMimeContent bool `xml:"t:IncludeMimeContent"`
}

type attachmentIDs struct {
	AttachmentID reqItemID `xml:"t:AttachmentId"`
}

// GetAttachmentResponse is the attachment fetch result.
type GetAttachmentResponse struct {
	XMLName  xml.Name          `xml:"GetAttachmentResponse"`
	Messages []responseMessage `xml:"ResponseMessages>GetAttachmentResponseMessage"`
}

// responseMessage is the common per-operation result wrapper.
type responseMessage struct {
	ResponseClass string `xml:"ResponseClass,attr"`
	ResponseCode  string `xml:"ResponseCode"`
	MessageText   string `xml:"MessageText"`

	RootFolder struct {
		TotalItems   int      `xml:"TotalItemsInView,attr"`
		LastItem     bool     `xml:"IncludesLastItemInRange,attr"`
		Folders      []Folder `xml:"Folders>Folder"`
		CalFolders   []Folder `xml:"Folders>CalendarFolder"`
		ContFolders  []Folder `xml:"Folders>ContactsFolder"`
		TaskFolders  []Folder `xml:"Folders>TasksFolder"`
		ItemEntries  []Item   `xml:"Items>Message"`
		Calendar     []Item   `xml:"Items>CalendarItem"`
		Contacts     []Item   `xml:"Items>Contact"`
		DistLists    []Item   `xml:"Items>DistributionList"`
		Tasks        []Item   `xml:"Items>Task"`
		MeetingItems []Item   `xml:"Items>MeetingRequest"`
	} `xml:"RootFolder"`

	Items struct {
		Messages  []Item `xml:"Message"`
		Calendar  []Item `xml:"CalendarItem"`
		Contacts  []Item `xml:"Contact"`
		DistLists []Item `xml:"DistributionList"`
		Tasks     []Item `xml:"Task"`
	} `xml:"Items"`

	Attachments struct {
		Files []FileAttachment `xml:"FileAttachment"`
	} `xml:"Attachments"`
}

// Item is an EWS item with the union of the fields the handled item
// classes use.
type Item struct {
	ItemID         ItemID `xml:"ItemId"`
	ItemClass      string `xml:"ItemClass"`
	Subject        string `xml:"Subject"`
	MimeContent    string `xml:"MimeContent"`
	UID            string `xml:"UID"`
	Size           int64  `xml:"Size"`
	HasAttachments bool   `xml:"HasAttachments"`
	LastModified   string `xml:"LastModifiedTime"`
	Created        string `xml:"DateTimeCreated"`

	Body struct {
		Type  string `xml:"BodyType,attr"`
		Value string `xml:",chardata"`
	} `xml:"Body"`

	Attachments struct {
		Files []FileAttachmentRef `xml:"FileAttachment"`
	} `xml:"Attachments"`

	// Contact and distribution list fields
	DisplayName string `xml:"DisplayName"`
	Members     struct {
		Entries []struct {
			Mailbox struct {
				Name         string  `xml:"Name"`
				EmailAddress string  `xml:"EmailAddress"`
				ItemID       *ItemID `xml:"ItemId"`
			} `xml:"Mailbox"`
		} `xml:"Member"`
	} `xml:"Members"`

	// Task fields
	Importance      string   `xml:"Importance"`
	Sensitivity     string   `xml:"Sensitivity"`
	Status          string   `xml:"Status"`
	PercentComplete int      `xml:"PercentComplete"`
	ChangeCount     int      `xml:"ChangeCount"`
	DueDate         string   `xml:"DueDate"`
	StartDate       string   `xml:"StartDate"`
	Categories      []string `xml:"Categories>String"`
	ReminderIsSet   bool     `xml:"ReminderIsSet"`
	ReminderDueBy   string   `xml:"ReminderDueBy"`
	ReminderNext    string   `xml:"ReminderNextTime"`

	Recurrence *RecurrenceXML `xml:"Recurrence"`
}

// FileAttachmentRef is the attachment stub listed on an item.
type FileAttachmentRef struct {
	AttachmentID ItemID `xml:"AttachmentId"`
	Name         string `xml:"Name"`
	ContentType  string `xml:"ContentType"`
	Size         int64  `xml:"Size"`
	IsInline     bool   `xml:"IsInline"`
}

// FileAttachment is a fetched attachment with content.
type FileAttachment struct {
	Name        string `xml:"Name"`
	ContentType string `xml:"ContentType"`
	Content     string `xml:"Content"`
}

// RecurrenceXML mirrors the EWS recurrence element: one pattern child
// plus one range child.
type RecurrenceXML struct {
	Daily           *recurPattern `xml:"DailyRecurrence"`
	Weekly          *recurPattern `xml:"WeeklyRecurrence"`
	AbsoluteMonthly *recurPattern `xml:"AbsoluteMonthlyRecurrence"`
	RelativeMonthly *recurPattern `xml:"RelativeMonthlyRecurrence"`
	AbsoluteYearly  *recurPattern `xml:"AbsoluteYearlyRecurrence"`
	RelativeYearly  *recurPattern `xml:"RelativeYearlyRecurrence"`

	NoEnd *struct {
		StartDate string `xml:"StartDate"`
	} `xml:"NoEndRecurrence"`
	EndDate *struct {
		StartDate string `xml:"StartDate"`
		EndDate   string `xml:"EndDate"`
	} `xml:"EndDateRecurrence"`
	Numbered *struct {
		StartDate string `xml:"StartDate"`
		Count     int    `xml:"NumberOfOccurrences"`
	} `xml:"NumberedRecurrence"`
}

type recurPattern struct {
	Interval       int    `xml:"Interval"`
	DaysOfWeek     string `xml:"DaysOfWeek"`
	DayOfWeekIndex string `xml:"DayOfWeekIndex"`
	DayOfMonth     int    `xml:"DayOfMonth"`
	Month          string `xml:"Month"`
	FirstDayOfWeek string `xml:"FirstDayOfWeek"`
}
